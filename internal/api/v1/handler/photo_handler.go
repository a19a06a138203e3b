package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// PhotoHandler handles photo upload and retrieval endpoints

type PhotoHandler struct {
	photoService service.PhotoService
	validate     *validator.Validate
	logger       zerolog.Logger
}

// NewPhotoHandler creates a new PhotoHandler
func NewPhotoHandler(photoService service.PhotoService, validate *validator.Validate, logger zerolog.Logger) *PhotoHandler {
	return &PhotoHandler{
		photoService: photoService,
		validate:     validate,
		logger:       logger,
	}
}

// RegisterRoutes mounts photo routes under /photos
func (h *PhotoHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/photos/uploads", authMw(http.HandlerFunc(h.initiateUpload)))
	mux.Handle("/photos/", authMw(http.HandlerFunc(h.handlePhoto)))
}

func (h *PhotoHandler) handlePhoto(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if !strings.HasPrefix(path, "/photos/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if strings.HasSuffix(path, "/analyses") {
			h.listAnalyses(w, r)
			return
		}
		h.getPhoto(w, r)
	case http.MethodPost:
		if strings.HasSuffix(path, "/complete") {
			h.completeUpload(w, r)
			return
		}
		http.NotFound(w, r)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// initiateUpload godoc
// @Summary Initiate a photo upload
// @Description Creates a photo record and returns a presigned URL for direct upload.
// @Tags photos
// @Accept json
// @Produce json
// @Param upload body dto.PhotoUploadRequestDTO true "Upload request"
// @Success 201 {object} dto.PhotoUploadResponseDTO
// @Failure 400 {string} string "Invalid JSON payload"
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 500 {string} string "Failed to initiate upload"
// @Router /photos/uploads [post]
func (h *PhotoHandler) initiateUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	var req dto.PhotoUploadRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	photo, uploadURL, err := h.photoService.InitiateUpload(r.Context(), userID, req.Filename)
	if err != nil {
		http.Error(w, "Failed to initiate upload: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := dto.PhotoUploadResponseDTO{
		PhotoID:   photo.ID,
		UploadURL: uploadURL,
		Status:    photo.Status,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// completeUpload godoc
// @Summary Complete a photo upload
// @Description Verifies the uploaded object and triggers the analysis pipeline.
// @Tags photos
// @Produce json
// @Param photoId path string true "Photo ID"
// @Success 200 {object} dto.PhotoResponseDTO
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 404 {string} string "Photo not found"
// @Failure 500 {string} string "Failed to complete upload"
// @Router /photos/{photoId}/complete [post]
func (h *PhotoHandler) completeUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	photoID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/photos/"), "/complete")
	photo, err := h.photoService.CompleteUpload(r.Context(), photoID, userID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, "Photo not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to complete upload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writePhoto(w, r, photo)
}

// getPhoto godoc
// @Summary Get a photo
// @Description Retrieves a photo by its ID.
// @Tags photos
// @Produce json
// @Param photoId path string true "Photo ID"
// @Success 200 {object} dto.PhotoResponseDTO
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 404 {string} string "Photo not found"
// @Failure 500 {string} string "Failed to retrieve photo"
// @Router /photos/{photoId} [get]
func (h *PhotoHandler) getPhoto(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	photoID := strings.TrimPrefix(r.URL.Path, "/photos/")
	photo, err := h.photoService.GetPhotoByID(r.Context(), photoID)
	if err != nil {
		http.Error(w, "Failed to retrieve photo: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if photo == nil || photo.UserID != userID {
		http.Error(w, "Photo not found", http.StatusNotFound)
		return
	}
	h.writePhoto(w, r, photo)
}

// listAnalyses godoc
// @Summary List analyses for a photo
// @Description Retrieves all stored model results for a photo.
// @Tags photos
// @Produce json
// @Param photoId path string true "Photo ID"
// @Success 200 {array} dto.AnalysisResponseDTO
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 404 {string} string "Photo not found"
// @Failure 500 {string} string "Failed to list analyses"
// @Router /photos/{photoId}/analyses [get]
func (h *PhotoHandler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	photoID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/photos/"), "/analyses")
	photo, err := h.photoService.GetPhotoByID(r.Context(), photoID)
	if err != nil {
		http.Error(w, "Failed to retrieve photo: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if photo == nil || photo.UserID != userID {
		http.Error(w, "Photo not found", http.StatusNotFound)
		return
	}
	analyses, err := h.photoService.GetAnalysesByPhotoID(r.Context(), photoID)
	if err != nil {
		http.Error(w, "Failed to list analyses: "+err.Error(), http.StatusInternalServerError)
		return
	}
	resp := make([]dto.AnalysisResponseDTO, 0, len(analyses))
	for _, a := range analyses {
		resp = append(resp, dto.AnalysisResponseDTO{
			JobID:     a.JobID,
			PhotoID:   a.PhotoID,
			Model:     a.Model,
			Outcome:   a.Outcome,
			Result:    a.Result,
			CreatedAt: a.CreatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *PhotoHandler) writePhoto(w http.ResponseWriter, r *http.Request, photo *model.Photo) {
	resp := dto.PhotoResponseDTO{
		PhotoID:     photo.ID,
		Title:       photo.Title,
		StoragePath: photo.StoragePath,
		Status:      photo.Status,
		CreatedAt:   photo.CreatedAt,
		UpdatedAt:   photo.UpdatedAt,
	}
	if photo.StoragePath != "" {
		if url, err := h.photoService.GetPresignedURL(r.Context(), photo.StoragePath); err == nil {
			resp.PhotoURL = url
		} else {
			h.logger.Warn().Err(err).Str("photo_id", photo.ID).Msg("Failed to presign photo URL")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
