package model

import "time"

// Endpoint kinds, one per send backend.
const (
	EndpointWebPush  = "webpush"
	EndpointFCM      = "fcm"
	EndpointTelegram = "telegram"
)

// DeviceEndpoint is a push-delivery token for one device. For web push the
// token is the subscription endpoint URL and the keys are required.
type DeviceEndpoint struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Kind       string     `json:"kind"`
	Token      string     `json:"-"`
	P256dhKey  string     `json:"-"`
	AuthKey    string     `json:"-"`
	DeviceName string     `json:"device_name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// ValidEndpointKind reports whether kind has a send backend.
func ValidEndpointKind(kind string) bool {
	switch kind {
	case EndpointWebPush, EndpointFCM, EndpointTelegram:
		return true
	}
	return false
}
