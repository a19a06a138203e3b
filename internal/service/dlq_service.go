package service

import (
	"context"

	"app/internal/model"
	"app/internal/queue"

	"github.com/rs/zerolog"
)

// DLQService exposes the quarantine for operator inspection and replay.
type DLQService interface {
	ListDeadLetters(ctx context.Context) ([]*model.DeadLetterEntry, error)
	Requeue(ctx context.Context, jobID, targetTopic string) error
}

type dlqService struct {
	q      queue.Queue
	logger zerolog.Logger
}

func NewDLQService(q queue.Queue, logger zerolog.Logger) DLQService {
	return &dlqService{q: q, logger: logger.With().Str("service", "DLQService").Logger()}
}

func (s *dlqService) ListDeadLetters(ctx context.Context) ([]*model.DeadLetterEntry, error) {
	entries, err := s.q.DeadLetters(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list dead-letter entries")
		return nil, err
	}
	return entries, nil
}

func (s *dlqService) Requeue(ctx context.Context, jobID, targetTopic string) error {
	if err := s.q.Requeue(ctx, jobID, targetTopic); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Str("target_topic", targetTopic).
			Msg("Failed to requeue dead-letter job")
		return err
	}
	s.logger.Info().Str("job_id", jobID).Str("target_topic", targetTopic).
		Msg("Requeued dead-letter job")
	return nil
}
