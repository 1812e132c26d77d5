package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/mealminder/internal/auth"
	"github.com/dukerupert/mealminder/internal/model"
)

type DeviceStore interface {
	Register(ctx context.Context, ep model.DeviceEndpoint) (*model.DeviceEndpoint, error)
	GetByID(ctx context.Context, id, userID int64) (*model.DeviceEndpoint, error)
	ListByUser(ctx context.Context, userID int64) ([]model.DeviceEndpoint, error)
	Delete(ctx context.Context, id, userID int64) error
}

type DeviceHandler struct {
	devices  DeviceStore
	vapidKey string
	logger   *slog.Logger
}

func NewDeviceHandler(devices DeviceStore, vapidPublicKey string, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, vapidKey: vapidPublicKey, logger: logger}
}

type registerDeviceRequest struct {
	Kind       string `json:"kind"`
	Token      string `json:"token"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Register handles POST /api/users/{id}/devices
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Kind == "" {
		req.Kind = model.EndpointWebPush
	}
	if !model.ValidEndpointKind(req.Kind) {
		writeError(w, http.StatusBadRequest, "unsupported kind "+req.Kind)
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if req.Kind == model.EndpointWebPush && (req.P256dh == "" || req.Auth == "") {
		writeError(w, http.StatusBadRequest, "p256dh and auth are required for webpush")
		return
	}

	ep, err := h.devices.Register(r.Context(), model.DeviceEndpoint{
		UserID:     userID,
		Kind:       req.Kind,
		Token:      req.Token,
		P256dhKey:  req.P256dh,
		AuthKey:    req.Auth,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		h.logger.Error("register device", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save device")
		return
	}

	writeJSON(w, http.StatusCreated, ep)
}

// List handles GET /api/users/{id}/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	eps, err := h.devices.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if eps == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

// Delete handles DELETE /api/users/{id}/devices/{deviceID}
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	id, err := parseIDParam(r, "deviceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	ep, err := h.devices.GetByID(r.Context(), id, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get device")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	if err := h.devices.Delete(r.Context(), id, userID); err != nil {
		h.logger.Error("delete device", "user_id", userID, "device_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *DeviceHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidKey == "" {
		writeError(w, http.StatusNotFound, "web push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidKey})
}
