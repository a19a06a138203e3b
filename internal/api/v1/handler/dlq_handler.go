package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"app/internal/api/v1/dto"
	"app/internal/queue"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// DLQHandler exposes the dead-letter quarantine to operators.

type DLQHandler struct {
	dlqService service.DLQService
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewDLQHandler creates a new DLQHandler
func NewDLQHandler(dlqService service.DLQService, validate *validator.Validate, logger zerolog.Logger) *DLQHandler {
	return &DLQHandler{
		dlqService: dlqService,
		validate:   validate,
		logger:     logger,
	}
}

// RegisterRoutes mounts DLQ routes under /dlq
func (h *DLQHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/dlq", authMw(http.HandlerFunc(h.listDeadLetters)))
	mux.Handle("/dlq/", authMw(http.HandlerFunc(h.handleDeadLetter)))
}

func (h *DLQHandler) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/requeue") {
		h.requeue(w, r)
		return
	}
	http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
}

// listDeadLetters godoc
// @Summary List dead-letter jobs
// @Description Retrieves all quarantined jobs with their failure counts.
// @Tags dlq
// @Produce json
// @Success 200 {array} dto.DeadLetterResponseDTO
// @Failure 500 {string} string "Failed to list dead-letter jobs"
// @Router /dlq [get]
func (h *DLQHandler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.dlqService.ListDeadLetters(r.Context())
	if err != nil {
		http.Error(w, "Failed to list dead-letter jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	resp := make([]dto.DeadLetterResponseDTO, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, dto.DeadLetterResponseDTO{
			JobID:        e.Job.ID,
			Topic:        e.Job.Topic,
			PhotoID:      e.Job.PhotoID,
			Bucket:       e.Job.Bucket,
			ObjectKey:    e.Job.ObjectKey,
			FailureCount: e.FailureCount,
			EnqueuedAt:   e.Job.EnqueuedAt,
			ArrivalTime:  e.ArrivalTime,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// requeue godoc
// @Summary Requeue a dead-letter job
// @Description Moves a quarantined job back onto a live topic with a reset delivery count.
// @Tags dlq
// @Accept json
// @Produce json
// @Param jobId path string true "Job ID"
// @Param requeue body dto.RequeueRequestDTO true "Requeue target"
// @Success 204 {string} string "No Content"
// @Failure 400 {string} string "Invalid JSON payload"
// @Failure 404 {string} string "Job not found in dead-letter queue"
// @Failure 500 {string} string "Failed to requeue job"
// @Router /dlq/{jobId}/requeue [post]
func (h *DLQHandler) requeue(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/dlq/"), "/requeue")
	var req dto.RequeueRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.dlqService.Requeue(r.Context(), jobID, req.TargetTopic); err != nil {
		switch {
		case errors.Is(err, queue.ErrUnknownJob):
			http.Error(w, "Job not found in dead-letter queue", http.StatusNotFound)
		case errors.Is(err, queue.ErrInvalidTopic):
			http.Error(w, "Invalid target topic: "+req.TargetTopic, http.StatusBadRequest)
		default:
			http.Error(w, "Failed to requeue job: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
