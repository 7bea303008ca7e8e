package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/dirsync/internal/config"
)

type mockSSMClient struct {
	getParameterFunc func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	putParameterFunc func(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

func (m *mockSSMClient) GetParameter(
	ctx context.Context,
	params *ssm.GetParameterInput,
	optFns ...func(*ssm.Options),
) (*ssm.GetParameterOutput, error) {
	if m.getParameterFunc != nil {
		return m.getParameterFunc(ctx, params, optFns...)
	}
	return &ssm.GetParameterOutput{}, nil
}

func (m *mockSSMClient) PutParameter(
	ctx context.Context,
	params *ssm.PutParameterInput,
	optFns ...func(*ssm.Options),
) (*ssm.PutParameterOutput, error) {
	if m.putParameterFunc != nil {
		return m.putParameterFunc(ctx, params, optFns...)
	}
	return &ssm.PutParameterOutput{}, nil
}

// memorySecretStore implements SecretStore for testing.
type memorySecretStore struct {
	getErr  error
	saveErr error
	saves   int
	secret  config.Secret
}

func (m *memorySecretStore) ClientSecret(_ context.Context) (config.Secret, error) {
	return m.secret, m.getErr
}

func (m *memorySecretStore) SaveClientSecret(_ context.Context, secret config.Secret) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.secret = secret
	return nil
}

func TestNewSSMDirectoryStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client        SSMAPI
		errMsg        string
		parameterName string
		secrets       SecretStore
		wantErr       bool
	}{
		"valid inputs": {
			client:        &mockSSMClient{},
			parameterName: "/dirsync/directory",
			secrets:       &memorySecretStore{},
			wantErr:       false,
		},
		"nil client": {
			client:        nil,
			parameterName: "/dirsync/directory",
			secrets:       &memorySecretStore{},
			wantErr:       true,
			errMsg:        "ssm client is required",
		},
		"empty parameter name": {
			client:        &mockSSMClient{},
			parameterName: "",
			secrets:       &memorySecretStore{},
			wantErr:       true,
			errMsg:        "parameter name is required",
		},
		"nil secret store": {
			client:        &mockSSMClient{},
			parameterName: "/dirsync/directory",
			wantErr:       true,
			errMsg:        "secret store is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewSSMDirectoryStore(tc.client, tc.parameterName, tc.secrets)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, store)
			} else {
				require.NoError(t, err)
				require.NotNil(t, store)
			}
		})
	}
}

func TestSSMDirectoryStore_LoadDirectory(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client  *mockSSMClient
		errMsg  string
		secrets *memorySecretStore
		want    func() config.Directory
	}{
		"parameter not found yields defaults": {
			client: &mockSSMClient{
				getParameterFunc: func(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
					return nil, &types.ParameterNotFound{Message: aws.String("not found")}
				},
			},
			secrets: &memorySecretStore{},
			want:    config.DefaultDirectory,
		},
		"document merged over defaults": {
			client: &mockSSMClient{
				getParameterFunc: func(_ context.Context, params *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
					require.Equal(t, "/dirsync/directory", *params.Name)
					require.True(t, *params.WithDecryption)
					return &ssm.GetParameterOutput{
						Parameter: &types.Parameter{
							Value: aws.String(`{"tenant_id":"tenant-id","client_id":"client-id","enabled":true,"sync_enabled":true,"sync_on_user_update":false}`),
						},
					}, nil
				},
			},
			secrets: &memorySecretStore{secret: "client-secret"},
			want: func() config.Directory {
				d := config.DefaultDirectory()
				d.ClientID = "client-id"
				d.ClientSecret = "client-secret"
				d.Enabled = true
				d.SyncEnabled = true
				d.SyncOnUpdate = false
				d.TenantID = "tenant-id"
				return d
			},
		},
		"invalid document": {
			client: &mockSSMClient{
				getParameterFunc: func(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
					return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String("{")}}, nil
				},
			},
			secrets: &memorySecretStore{},
			errMsg:  "parsing directory configuration",
		},
		"ssm error": {
			client: &mockSSMClient{
				getParameterFunc: func(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
					return nil, errors.New("access denied")
				},
			},
			secrets: &memorySecretStore{},
			errMsg:  "getting parameter from SSM",
		},
		"secret error": {
			client:  &mockSSMClient{},
			secrets: &memorySecretStore{getErr: errors.New("kms unavailable")},
			errMsg:  "getting client secret",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewSSMDirectoryStore(tc.client, "/dirsync/directory", tc.secrets)
			require.NoError(t, err)

			got, err := store.LoadDirectory(context.Background())

			if tc.errMsg != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want(), got)
		})
	}
}

func TestSSMDirectoryStore_SaveDirectory(t *testing.T) {
	t.Parallel()

	tested := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		client      func(t *testing.T, written *string) *mockSSMClient
		directory   config.Directory
		errMsg      string
		secrets     *memorySecretStore
		wantSaves   int
		wantSecret  config.Secret
		wantWritten bool
	}{
		"writes document without secret": {
			directory: func() config.Directory {
				d := config.DefaultDirectory()
				d.ClientSecret = "new-secret"
				d.Connection = config.ConnectionTest{LastTestedAt: tested, Status: config.ConnectionConnected}
				d.TenantID = "tenant-id"
				return d
			}(),
			secrets:     &memorySecretStore{secret: "old-secret"},
			wantSaves:   1,
			wantSecret:  "new-secret",
			wantWritten: true,
		},
		"unchanged secret is not rewritten": {
			directory: func() config.Directory {
				d := config.DefaultDirectory()
				d.ClientSecret = "same-secret"
				return d
			}(),
			secrets:     &memorySecretStore{secret: "same-secret"},
			wantSecret:  "same-secret",
			wantWritten: true,
		},
		"empty secret leaves stored secret": {
			directory:   config.DefaultDirectory(),
			secrets:     &memorySecretStore{secret: "kept"},
			wantSecret:  "kept",
			wantWritten: true,
		},
		"ssm error": {
			client: func(_ *testing.T, _ *string) *mockSSMClient {
				return &mockSSMClient{
					putParameterFunc: func(_ context.Context, _ *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
						return nil, errors.New("throttled")
					},
				}
			},
			directory: config.DefaultDirectory(),
			secrets:   &memorySecretStore{},
			errMsg:    "putting parameter to SSM",
		},
		"secret save error": {
			directory: func() config.Directory {
				d := config.DefaultDirectory()
				d.ClientSecret = "new-secret"
				return d
			}(),
			secrets:     &memorySecretStore{saveErr: errors.New("denied")},
			errMsg:      "saving client secret",
			wantWritten: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var written string
			client := &mockSSMClient{
				putParameterFunc: func(_ context.Context, params *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
					require.True(t, *params.Overwrite)
					written = *params.Value
					return &ssm.PutParameterOutput{}, nil
				},
			}
			if tc.client != nil {
				client = tc.client(t, &written)
			}

			store, err := NewSSMDirectoryStore(client, "/dirsync/directory", tc.secrets)
			require.NoError(t, err)

			err = store.SaveDirectory(context.Background(), tc.directory)

			require.Equal(t, tc.wantWritten, written != "")
			if written != "" {
				if !tc.directory.ClientSecret.IsZero() {
					require.NotContains(t, written, tc.directory.ClientSecret.Reveal())
				}
				var doc map[string]any
				require.NoError(t, json.Unmarshal([]byte(written), &doc))
				require.NotContains(t, doc, "client_secret")
			}
			if tc.errMsg != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantSaves, tc.secrets.saves)
			require.Equal(t, tc.wantSecret, tc.secrets.secret)
		})
	}
}
