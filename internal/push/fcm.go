package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"

	"github.com/dukerupert/mealminder/internal/model"
)

// fcmBatchLimit is the most tokens FCM accepts in one multicast request.
const fcmBatchLimit = 500

// Multicaster is the part of the FCM messaging client the sender uses.
type Multicaster interface {
	SendMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCM sends through Firebase Cloud Messaging.
type FCM struct {
	client Multicaster
}

// NewFCM initializes a Firebase app from a service account key file.
func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCM{client: client}, nil
}

// NewFCMWithClient wraps an existing messaging client.
func NewFCMWithClient(client Multicaster) *FCM {
	return &FCM{client: client}
}

func (s *FCM) Send(ctx context.Context, endpoints []model.DeviceEndpoint, msg Message) (Result, error) {
	tokens := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		tokens = append(tokens, ep.Token)
	}

	var (
		res     Result
		lastErr error
	)
	for start := 0; start < len(tokens); start += fcmBatchLimit {
		end := min(start+fcmBatchLimit, len(tokens))
		batch := tokens[start:end]

		resp, err := s.client.SendMulticast(ctx, &messaging.MulticastMessage{
			Tokens: batch,
			Data:   msg.Data,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
		})
		if err != nil {
			res.FailureCount += len(batch)
			lastErr = fmt.Errorf("fcm multicast: %w", err)
			continue
		}

		res.SuccessCount += resp.SuccessCount
		res.FailureCount += resp.FailureCount
		for i, r := range resp.Responses {
			if r == nil || r.Success || i >= len(batch) {
				continue
			}
			if messaging.IsRegistrationTokenNotRegistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
				res.InvalidTokens = append(res.InvalidTokens, batch[i])
				continue
			}
			lastErr = fmt.Errorf("fcm send: %w", r.Error)
		}
	}
	if res.SuccessCount == 0 && lastErr != nil {
		return res, lastErr
	}
	return res, nil
}
