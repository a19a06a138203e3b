package service

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretManagerService resolves secrets stored in GCP Secret Manager.
type SecretManagerService interface {
	AccessSecret(ctx context.Context, secretPath string) (string, error)
	Close() error
}

type secretManagerService struct {
	client *secretmanager.Client
}

func NewSecretManagerService(ctx context.Context, opts ...option.ClientOption) (SecretManagerService, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretManagerService{client: client}, nil
}

// AccessSecret reads the latest version of the secret at
// projects/<project>/secrets/<name>.
func (s *secretManagerService) AccessSecret(ctx context.Context, secretPath string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretPath + "/versions/latest",
	}

	result, err := s.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}

	return string(result.Payload.Data), nil
}

func (s *secretManagerService) Close() error {
	return s.client.Close()
}
