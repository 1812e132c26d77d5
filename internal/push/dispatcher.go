package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/mealminder/internal/model"
)

// ErrNoEndpoints means the user has no registered devices. It is not retried.
var ErrNoEndpoints = errors.New("no endpoints")

// DeliveryError is a delivery that reached no device.
type DeliveryError struct {
	UserID int64
	Type   string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to user %d: %v", e.Type, e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// EndpointStore is the device persistence the dispatcher needs.
type EndpointStore interface {
	ListByUser(ctx context.Context, userID int64) ([]model.DeviceEndpoint, error)
	DeleteByTokens(ctx context.Context, tokens []string) (int64, error)
	TouchUsed(ctx context.Context, tokens []string, at time.Time) error
}

// DeliveryLog records successful deliveries.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, userID int64, notifType string, sentAt time.Time, loc *time.Location, meta map[string]any) error
}

// Request is one notification for one user.
type Request struct {
	User  model.UserPreference
	Type  string
	Title string
	Body  string
	// Vars are extra placeholder values on top of {name}, {currentTime} and {date}.
	Vars map[string]string
	Data map[string]string
	Now  time.Time
	// Untracked deliveries are not written to the notification log.
	Untracked bool
}

// Outcome is a successful delivery.
type Outcome struct {
	Result
	Title string
	Body  string
}

type Dispatcher struct {
	endpoints EndpointStore
	sender    Sender
	log       DeliveryLog
	logger    *slog.Logger
}

func NewDispatcher(endpoints EndpointStore, sender Sender, log DeliveryLog, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		endpoints: endpoints,
		sender:    sender,
		log:       log,
		logger:    logger,
	}
}

// Deliver renders the request, sends it to every endpoint of the user in one
// call, drops endpoints the provider rejected, and logs the delivery when at
// least one device accepted it.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) (*Outcome, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	userID := req.User.UserID

	eps, err := d.endpoints.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	if len(eps) == 0 {
		return nil, &DeliveryError{UserID: userID, Type: req.Type, Err: ErrNoEndpoints}
	}

	vars := Vars(req.User, req.Now, req.Vars)
	out := &Outcome{
		Title: Render(req.Title, vars),
		Body:  Render(req.Body, vars),
	}

	data := map[string]string{"type": req.Type}
	for k, v := range req.Data {
		data[k] = v
	}

	res, sendErr := d.sender.Send(ctx, eps, Message{Title: out.Title, Body: out.Body, Data: data})
	out.Result = res

	// The provider has already acted on the message; bookkeeping outlives the caller's deadline.
	post := context.WithoutCancel(ctx)

	if len(res.InvalidTokens) > 0 {
		n, err := d.endpoints.DeleteByTokens(post, res.InvalidTokens)
		if err != nil {
			d.logger.Warn("delete invalid endpoints", "user_id", userID, "error", err)
		} else {
			d.logger.Info("deleted invalid endpoints", "user_id", userID, "count", n)
		}
	}

	if res.SuccessCount == 0 {
		if sendErr == nil {
			sendErr = errors.New("provider accepted no messages")
		}
		return nil, &DeliveryError{UserID: userID, Type: req.Type, Err: sendErr}
	}

	if err := d.endpoints.TouchUsed(post, delivered(eps, res.InvalidTokens), req.Now); err != nil {
		d.logger.Warn("touch endpoints", "user_id", userID, "error", err)
	}

	if !req.Untracked && d.log != nil {
		meta := map[string]any{
			"success_count": res.SuccessCount,
			"failure_count": res.FailureCount,
		}
		if err := d.log.RecordDelivery(post, userID, req.Type, req.Now, req.User.Location(), meta); err != nil {
			return out, fmt.Errorf("record delivery: %w", err)
		}
	}

	d.logger.Debug("delivered",
		"user_id", userID,
		"type", req.Type,
		"success", res.SuccessCount,
		"failure", res.FailureCount,
	)
	return out, nil
}

func delivered(eps []model.DeviceEndpoint, invalid []string) []string {
	skip := make(map[string]struct{}, len(invalid))
	for _, t := range invalid {
		skip[t] = struct{}{}
	}
	tokens := make([]string, 0, len(eps))
	for _, ep := range eps {
		if _, ok := skip[ep.Token]; !ok {
			tokens = append(tokens, ep.Token)
		}
	}
	return tokens
}
