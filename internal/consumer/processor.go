package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// Processor handles one job. Implementations must be safe to run twice for
// the same job: the queue delivers at least once and two consumers can hold
// the same job during a visibility race.
type Processor interface {
	Process(ctx context.Context, job *model.Job) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *model.Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *model.Job) error {
	return f(ctx, job)
}

// ModelProcessor runs one inference model: it posts the job's payload
// reference to the model service and persists the response keyed by job id.
// The idempotent result write is what makes duplicate delivery harmless.
type ModelProcessor struct {
	modelName  string
	endpoint   string
	httpClient *http.Client
	results    repository.AnalysisRepository
	photos     repository.PhotoRepository
	timeout    time.Duration
	logger     zerolog.Logger
}

func NewModelProcessor(
	modelName string,
	endpoint string,
	results repository.AnalysisRepository,
	photos repository.PhotoRepository,
	timeout time.Duration,
	logger zerolog.Logger,
) *ModelProcessor {
	return &ModelProcessor{
		modelName:  modelName,
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
		results:    results,
		photos:     photos,
		timeout:    timeout,
		logger:     logger.With().Str("processor", modelName).Logger(),
	}
}

func (p *ModelProcessor) Process(ctx context.Context, job *model.Job) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reqBody, err := json.Marshal(map[string]string{
		"job_id":     job.ID,
		"photo_id":   job.PhotoID,
		"bucket":     job.Bucket,
		"object_key": job.ObjectKey,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal model request: %w", err)
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model service call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service returned status %d: %s", resp.StatusCode, string(body))
	}
	p.logger.Debug().Str("job_id", job.ID).Dur("duration", time.Since(start)).
		Msg("Model service succeeded")

	inserted, err := p.results.SaveResult(ctx, &model.Analysis{
		JobID:   job.ID,
		PhotoID: job.PhotoID,
		Model:   p.modelName,
		Outcome: "success",
		Result:  string(body),
	})
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	if !inserted {
		// Duplicate delivery: the result already exists, nothing to do.
		p.logger.Info().Str("job_id", job.ID).Msg("Duplicate delivery detected, result already stored")
		return nil
	}

	if p.photos != nil {
		if err := p.photos.UpdatePhotoStatus(ctx, job.PhotoID, model.PhotoStatusAnalyzed); err != nil {
			// The result is stored; status is cosmetic and will converge on
			// the next analysis for this photo.
			p.logger.Error().Err(err).Str("photo_id", job.PhotoID).
				Msg("Failed to update photo status after analysis")
		}
	}
	return nil
}

// IngestProcessor handles the primary ingestion queue: it confirms the photo
// record exists for the landed object and moves it into processing.
type IngestProcessor struct {
	photos repository.PhotoRepository
	logger zerolog.Logger
}

func NewIngestProcessor(photos repository.PhotoRepository, logger zerolog.Logger) *IngestProcessor {
	return &IngestProcessor{
		photos: photos,
		logger: logger.With().Str("processor", "ingest").Logger(),
	}
}

func (p *IngestProcessor) Process(ctx context.Context, job *model.Job) error {
	photo, err := p.photos.GetPhotoByID(ctx, job.PhotoID)
	if err != nil {
		return fmt.Errorf("failed to load photo %s: %w", job.PhotoID, err)
	}
	if photo == nil {
		return fmt.Errorf("no photo record for object %s/%s", job.Bucket, job.ObjectKey)
	}
	if photo.Status != model.PhotoStatusUploading {
		// Already past ingestion: duplicate delivery, safe to acknowledge.
		return nil
	}
	if err := p.photos.UpdatePhotoStatus(ctx, photo.ID, model.PhotoStatusProcessing); err != nil {
		return fmt.Errorf("failed to mark photo processing: %w", err)
	}
	p.logger.Info().Str("photo_id", photo.ID).Str("key", job.ObjectKey).Msg("Photo ingested")
	return nil
}
