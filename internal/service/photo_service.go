package service

import (
	"context"
	"fmt"
	"time"

	"app/internal/events"
	"app/internal/model"
	"app/internal/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// PhotoService defines photo upload and retrieval operations
type PhotoService interface {
	GetPhotoByID(ctx context.Context, photoID string) (*model.Photo, error)
	GetAnalysesByPhotoID(ctx context.Context, photoID string) ([]model.Analysis, error)
	GetPresignedURL(ctx context.Context, storagePath string) (string, error)

	InitiateUpload(ctx context.Context, userID, filename string) (*model.Photo, string, error)
	CompleteUpload(ctx context.Context, photoID, userID string) (*model.Photo, error)
}

type photoService struct {
	photos        repository.PhotoRepository
	analyses      repository.AnalysisRepository
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	bucketName    string
	notifier      events.Notifier
	photoLogger   zerolog.Logger
}

// NewPhotoService creates a new PhotoService
func NewPhotoService(
	photos repository.PhotoRepository,
	analyses repository.AnalysisRepository,
	s3Client *s3.Client,
	bucketName string,
	notifier events.Notifier,
	logger zerolog.Logger,
) PhotoService {
	return &photoService{
		photos:        photos,
		analyses:      analyses,
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    bucketName,
		notifier:      notifier,
		photoLogger:   logger.With().Str("service", "PhotoService").Logger(),
	}
}

// InitiateUpload creates a photo record and returns a presigned URL for upload.
func (s *photoService) InitiateUpload(ctx context.Context, userID, filename string) (*model.Photo, string, error) {
	// 1. Create photo record with 'uploading' status
	photo := &model.Photo{
		UserID: userID,
		Title:  filename,
		Status: model.PhotoStatusUploading,
	}
	createdPhoto, err := s.photos.CreatePhoto(ctx, photo)
	if err != nil {
		s.photoLogger.Error().Err(err).Msg("Failed to create photo record for upload")
		return nil, "", fmt.Errorf("failed to create photo record: %w", err)
	}

	// 2. Generate presigned URL for direct S3 upload
	storagePath := fmt.Sprintf("uploads/%s/original.jpg", createdPhoto.ID)
	presignedURL, err := s.getPresignedPutURL(ctx, storagePath)
	if err != nil {
		s.photoLogger.Error().Err(err).Str("photo_id", createdPhoto.ID).Msg("Failed to generate presigned PUT URL")
		return nil, "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	// 3. Record where the object will land (still 'uploading')
	createdPhoto.StoragePath = storagePath
	if err := s.photos.UpdatePhoto(ctx, createdPhoto); err != nil {
		s.photoLogger.Error().Err(err).Str("photo_id", createdPhoto.ID).Msg("Failed to update photo with storage path")
		return nil, "", fmt.Errorf("failed to update photo with storage path: %w", err)
	}

	return createdPhoto, presignedURL, nil
}

// CompleteUpload verifies the object landed in storage and emits the
// object-created notification that feeds the analysis pipeline.
func (s *photoService) CompleteUpload(ctx context.Context, photoID, userID string) (*model.Photo, error) {
	photo, err := s.photos.GetPhotoByID(ctx, photoID)
	if err != nil {
		s.photoLogger.Error().Err(err).Str("photo_id", photoID).Msg("Failed to get photo for completion")
		return nil, fmt.Errorf("failed to retrieve photo: %w", err)
	}
	if photo == nil {
		return nil, fmt.Errorf("photo not found")
	}
	if photo.UserID != userID {
		return nil, fmt.Errorf("user does not own this photo")
	}

	// Verify the object exists in S3 before notifying the pipeline.
	_, err = s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(photo.StoragePath),
	})
	if err != nil {
		s.photoLogger.Error().Err(err).Str("storage_path", photo.StoragePath).Msg("File not found in S3 at expected path")
		photo.Status = model.PhotoStatusFailed
		_ = s.photos.UpdatePhoto(ctx, photo)
		return nil, fmt.Errorf("file not found in storage: %w", err)
	}

	// The status stays 'uploading' here; the ingest consumer moves it to
	// 'processing' once the pipeline picks the job up.
	msgID, err := s.notifier.ObjectCreated(ctx, events.ObjectCreated{
		Bucket:  s.bucketName,
		Key:     photo.StoragePath,
		PhotoID: photo.ID,
	})
	if err != nil {
		// The object is in storage; the notification can be replayed, so the
		// upload itself still counts as complete.
		s.photoLogger.Error().Err(err).Str("photo_id", photoID).Msg("Failed to publish object-created notification")
	} else {
		s.photoLogger.Info().Str("photo_id", photoID).Str("message_id", msgID).Msg("Published object-created notification")
	}

	return photo, nil
}

// GetPhotoByID retrieves a photo by ID
func (s *photoService) GetPhotoByID(ctx context.Context, photoID string) (*model.Photo, error) {
	photo, err := s.photos.GetPhotoByID(ctx, photoID)
	if err != nil {
		s.photoLogger.Error().Err(err).Str("photo_id", photoID).Msg("Failed to get photo by ID")
		return nil, err
	}
	return photo, nil
}

// GetAnalysesByPhotoID retrieves all analysis results stored for a photo
func (s *photoService) GetAnalysesByPhotoID(ctx context.Context, photoID string) ([]model.Analysis, error) {
	analyses, err := s.analyses.ListByPhotoID(ctx, photoID)
	if err != nil {
		s.photoLogger.Error().Err(err).Str("photo_id", photoID).Msg("Failed to list analyses for photo")
		return nil, err
	}
	return analyses, nil
}

// GetPresignedURL generates a signed URL for the given storage path
func (s *photoService) GetPresignedURL(ctx context.Context, storagePath string) (string, error) {
	resp, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(storagePath),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		s.photoLogger.Error().Err(err).Str("storage_path", storagePath).Msg("Failed to generate presigned URL")
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return resp.URL, nil
}

// getPresignedPutURL generates a presigned URL for uploading an object.
func (s *photoService) getPresignedPutURL(ctx context.Context, objectKey string) (string, error) {
	request, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		s.photoLogger.Error().Err(err).Str("object_key", objectKey).Msg("Failed to generate presigned PUT URL")
		return "", fmt.Errorf("failed to generate presigned PUT URL: %w", err)
	}
	return request.URL, nil
}
