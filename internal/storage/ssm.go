package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/peteski22/dirsync/internal/config"
)

// SSMAPI defines the SSM operations used by the directory store.
type SSMAPI interface {
	// GetParameter retrieves a parameter from SSM.
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)

	// PutParameter stores a parameter in SSM.
	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)
}

// SecretStore holds the directory client secret.
type SecretStore interface {
	// ClientSecret returns the stored secret, or an empty Secret when none is stored.
	ClientSecret(ctx context.Context) (config.Secret, error)

	// SaveClientSecret replaces the stored secret.
	SaveClientSecret(ctx context.Context, secret config.Secret) error
}

// SSMDirectoryStore keeps the directory configuration as a JSON document in SSM Parameter Store.
// The client secret is kept in a SecretStore and never written to the parameter.
type SSMDirectoryStore struct {
	// client is the SSM API client.
	client SSMAPI

	// parameterName is the SSM parameter holding the configuration document.
	parameterName string

	// secrets holds the client secret.
	secrets SecretStore
}

// NewSSMDirectoryStore creates a new SSM-backed directory store.
func NewSSMDirectoryStore(client SSMAPI, parameterName string, secrets SecretStore) (*SSMDirectoryStore, error) {
	if client == nil {
		return nil, errors.New("ssm client is required")
	}
	if parameterName == "" {
		return nil, errors.New("parameter name is required")
	}
	if secrets == nil {
		return nil, errors.New("secret store is required")
	}

	return &SSMDirectoryStore{
		client:        client,
		parameterName: parameterName,
		secrets:       secrets,
	}, nil
}

// LoadDirectory returns the stored configuration. A missing parameter yields the defaults.
func (s *SSMDirectoryStore) LoadDirectory(ctx context.Context) (config.Directory, error) {
	d := config.DefaultDirectory()

	output, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.parameterName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFoundErr *types.ParameterNotFound
		if !errors.As(err, &notFoundErr) {
			return config.Directory{}, fmt.Errorf("getting parameter from SSM: %w", err)
		}
	} else if output.Parameter != nil && output.Parameter.Value != nil && *output.Parameter.Value != "" {
		if err := json.Unmarshal([]byte(*output.Parameter.Value), &d); err != nil {
			return config.Directory{}, fmt.Errorf("parsing directory configuration: %w", err)
		}
	}

	secret, err := s.secrets.ClientSecret(ctx)
	if err != nil {
		return config.Directory{}, fmt.Errorf("getting client secret: %w", err)
	}
	d.ClientSecret = secret

	return d, nil
}

// SaveDirectory writes the configuration document, and the client secret when it changed.
func (s *SSMDirectoryStore) SaveDirectory(ctx context.Context, d config.Directory) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding directory configuration: %w", err)
	}

	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.parameterName),
		Overwrite: aws.Bool(true),
		Type:      types.ParameterTypeString,
		Value:     aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("putting parameter to SSM: %w", err)
	}

	if d.ClientSecret.IsZero() {
		return nil
	}
	current, err := s.secrets.ClientSecret(ctx)
	if err != nil {
		return fmt.Errorf("getting client secret: %w", err)
	}
	if current.Reveal() == d.ClientSecret.Reveal() {
		return nil
	}
	if err := s.secrets.SaveClientSecret(ctx, d.ClientSecret); err != nil {
		return fmt.Errorf("saving client secret: %w", err)
	}

	return nil
}
