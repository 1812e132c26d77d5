// Package push delivers rendered notifications to device endpoints.
package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dukerupert/mealminder/internal/model"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrExpired is returned when a push subscription is no longer valid (404/410).
var ErrExpired = errors.New("push subscription expired")

// Message is a rendered notification.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Result is the outcome of one multicast send.
type Result struct {
	SuccessCount  int      `json:"success_count"`
	FailureCount  int      `json:"failure_count"`
	InvalidTokens []string `json:"invalid_tokens,omitempty"`
}

func (r *Result) add(o Result) {
	r.SuccessCount += o.SuccessCount
	r.FailureCount += o.FailureCount
	r.InvalidTokens = append(r.InvalidTokens, o.InvalidTokens...)
}

// Sender is the send primitive. Per-endpoint failures are reported in the
// Result; an error means the provider could not deliver to any endpoint.
type Sender interface {
	Send(ctx context.Context, endpoints []model.DeviceEndpoint, msg Message) (Result, error)
}

// Payload is the JSON sent to the browser push service.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	URL   string            `json:"url,omitempty"`
	Tag   string            `json:"tag,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// WebPush sends through the Web Push protocol with VAPID authentication.
type WebPush struct {
	publicKey  string
	privateKey string
	subscriber string
}

// NewWebPush creates a web push sender with VAPID keys.
func NewWebPush(publicKey, privateKey, subscriber string) *WebPush {
	return &WebPush{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *WebPush) VAPIDPublicKey() string {
	return s.publicKey
}

func (s *WebPush) Send(ctx context.Context, endpoints []model.DeviceEndpoint, msg Message) (Result, error) {
	data, err := json.Marshal(Payload{
		Title: msg.Title,
		Body:  msg.Body,
		URL:   msg.Data["url"],
		Tag:   msg.Data["tag"],
		Data:  msg.Data,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal payload: %w", err)
	}

	var (
		res     Result
		lastErr error
	)
	for _, ep := range endpoints {
		err := s.sendOne(ctx, ep, data)
		switch {
		case err == nil:
			res.SuccessCount++
		case errors.Is(err, ErrExpired):
			res.FailureCount++
			res.InvalidTokens = append(res.InvalidTokens, ep.Token)
		default:
			res.FailureCount++
			lastErr = err
		}
	}
	if res.SuccessCount == 0 && lastErr != nil {
		return res, lastErr
	}
	return res, nil
}

func (s *WebPush) sendOne(ctx context.Context, ep model.DeviceEndpoint, data []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: ep.Token,
		Keys: webpush.Keys{
			P256dh: ep.P256dhKey,
			Auth:   ep.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Subscriber:      s.subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)
	privateKey = base64.RawURLEncoding.EncodeToString(key.D.Bytes())

	return publicKey, privateKey, nil
}
