package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/events"

	"github.com/rs/zerolog"
)

// NotificationHandler is the push ingress for storage notifications. The
// event fabric POSTs object-created messages here and the router fans them
// out to the model queues.

type NotificationHandler struct {
	router *events.Router
	logger zerolog.Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(router *events.Router, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{router: router, logger: logger}
}

// RegisterRoutes mounts the push endpoint under /notifications
func (h *NotificationHandler) RegisterRoutes(mux *http.ServeMux, pubsubAuthMw func(http.Handler) http.Handler) {
	mux.Handle("/notifications/storage", pubsubAuthMw(http.HandlerFunc(h.receiveStorageNotification)))
}

// receiveStorageNotification godoc
// @Summary Receive a storage notification
// @Description Accepts a Pub/Sub push message for an object-created event and enqueues analysis jobs.
// @Tags notifications
// @Accept json
// @Produce json
// @Param notification body dto.PubSubPushRequest true "Pub/Sub push envelope"
// @Success 204 {string} string "No Content"
// @Failure 400 {string} string "Invalid Pub/Sub message format"
// @Failure 500 {string} string "Failed to enqueue jobs"
// @Router /notifications/storage [post]
func (h *NotificationHandler) receiveStorageNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.PubSubPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message.MessageID == "" {
		http.Error(w, "Invalid Pub/Sub message format: missing message ID", http.StatusBadRequest)
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Message.Data)
	if err != nil {
		// A payload that cannot be decoded will never decode on retry.
		h.logger.Error().Err(err).Str("messageId", req.Message.MessageID).
			Msg("Failed to decode Pub/Sub payload, dropping message")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var ev events.ObjectCreated
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.logger.Error().Err(err).Str("messageId", req.Message.MessageID).
			Msg("Malformed storage notification, dropping message")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	enqueued, err := h.router.HandleObjectCreated(r.Context(), ev)
	if err != nil {
		// Non-2xx makes Pub/Sub redeliver the push; enqueue is idempotent on
		// job id so a partial fan-out is safe to retry.
		h.logger.Error().Err(err).Str("messageId", req.Message.MessageID).
			Msg("Failed to enqueue jobs for storage notification")
		http.Error(w, "Failed to enqueue jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info().
		Str("messageId", req.Message.MessageID).
		Str("photo_id", ev.PhotoID).
		Int("enqueued", enqueued).
		Msg("Processed storage notification")
	w.WriteHeader(http.StatusNoContent)
}
