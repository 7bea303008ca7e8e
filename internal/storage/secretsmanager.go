package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/peteski22/dirsync/internal/config"
)

// SecretsManagerAPI defines the Secrets Manager operations used by the secret store.
type SecretsManagerAPI interface {
	// GetSecretValue retrieves a secret value.
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	// PutSecretValue stores a secret value.
	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)
}

// SecretsManagerSecretStore keeps the directory client secret in AWS Secrets Manager.
type SecretsManagerSecretStore struct {
	// client is the Secrets Manager API client.
	client SecretsManagerAPI

	// secretARN is the ARN of the secret storing the client secret.
	secretARN string
}

// NewSecretsManagerSecretStore creates a new Secrets Manager-backed secret store.
func NewSecretsManagerSecretStore(client SecretsManagerAPI, secretARN string) (*SecretsManagerSecretStore, error) {
	if client == nil {
		return nil, errors.New("secrets manager client is required")
	}
	if secretARN == "" {
		return nil, errors.New("secret ARN is required")
	}

	return &SecretsManagerSecretStore{
		client:    client,
		secretARN: secretARN,
	}, nil
}

// ClientSecret returns the client secret. A secret that does not exist or has no value yet is empty.
func (s *SecretsManagerSecretStore) ClientSecret(ctx context.Context) (config.Secret, error) {
	output, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretARN),
	})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return "", nil
		}
		return "", fmt.Errorf("getting secret from Secrets Manager: %w", err)
	}

	if output.SecretString == nil {
		return "", nil
	}

	return config.Secret(strings.TrimSpace(*output.SecretString)), nil
}

// SaveClientSecret stores a new client secret in Secrets Manager.
func (s *SecretsManagerSecretStore) SaveClientSecret(ctx context.Context, secret config.Secret) error {
	if secret.IsZero() {
		return errors.New("secret cannot be empty")
	}

	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(s.secretARN),
		SecretString: aws.String(secret.Reveal()),
	})
	if err != nil {
		return fmt.Errorf("putting secret to Secrets Manager: %w", err)
	}

	return nil
}
