package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/mealminder/internal/model"
)

// Router fans a send out to the backend registered for each endpoint kind.
type Router struct {
	backends map[string]Sender
}

func NewRouter() *Router {
	return &Router{backends: make(map[string]Sender)}
}

// Register sets the backend for an endpoint kind.
func (r *Router) Register(kind string, s Sender) {
	r.backends[kind] = s
}

// Kinds lists the endpoint kinds with a backend.
func (r *Router) Kinds() []string {
	kinds := make([]string, 0, len(r.backends))
	for _, k := range []string{model.EndpointWebPush, model.EndpointFCM, model.EndpointTelegram} {
		if _, ok := r.backends[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Send groups endpoints by kind. Endpoints with no backend count as failures
// but are not invalidated.
func (r *Router) Send(ctx context.Context, endpoints []model.DeviceEndpoint, msg Message) (Result, error) {
	groups := make(map[string][]model.DeviceEndpoint)
	var order []string
	for _, ep := range endpoints {
		if _, seen := groups[ep.Kind]; !seen {
			order = append(order, ep.Kind)
		}
		groups[ep.Kind] = append(groups[ep.Kind], ep)
	}

	var (
		res  Result
		errs []error
	)
	for _, kind := range order {
		eps := groups[kind]
		backend, ok := r.backends[kind]
		if !ok {
			res.FailureCount += len(eps)
			errs = append(errs, fmt.Errorf("no backend for %q endpoints", kind))
			continue
		}
		got, err := backend.Send(ctx, eps, msg)
		res.add(got)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	if res.SuccessCount == 0 && len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}
