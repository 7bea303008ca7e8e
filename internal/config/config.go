// Package config provides configuration loading from environment variables,
// the local operator file and the persisted directory configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// EnvAzureADAuthority is the identity platform authority URL.
	EnvAzureADAuthority = "AZURE_AD_AUTHORITY"

	// EnvClientSecretARN is the Secrets Manager ARN holding the directory client secret.
	EnvClientSecretARN = "CLIENT_SECRET_ARN"

	// EnvConfigCacheTTL is how long the directory configuration is cached.
	EnvConfigCacheTTL = "CONFIG_CACHE_TTL"

	// EnvDryRun disables writes to the remote directory and the state store.
	EnvDryRun = "DRY_RUN"

	// EnvDynamoDBStatusIndexName is the DynamoDB Global Secondary Index on sync status.
	EnvDynamoDBStatusIndexName = "DYNAMODB_STATUS_INDEX_NAME"

	// EnvDynamoDBTableName is the DynamoDB table holding sync targets.
	EnvDynamoDBTableName = "DYNAMODB_TABLE_NAME"

	// EnvGraphAPIBaseURL is the base URL for the Microsoft Graph API.
	EnvGraphAPIBaseURL = "GRAPH_API_BASE_URL"

	// EnvGraphAPIVersion is the Microsoft Graph API version segment.
	EnvGraphAPIVersion = "GRAPH_API_VERSION"

	// EnvGraphRequestsPerSecond caps the request rate against the Graph API.
	EnvGraphRequestsPerSecond = "GRAPH_REQUESTS_PER_SECOND"

	// EnvHTTPTimeout is the per-request timeout for remote calls.
	EnvHTTPTimeout = "HTTP_TIMEOUT"

	// EnvPostgresDSN is the PostgreSQL connection string for the postgres state backend.
	EnvPostgresDSN = "POSTGRES_DSN"

	// EnvPostgresTableName is the table (or view) holding sync targets.
	EnvPostgresTableName = "POSTGRES_TABLE_NAME"

	// EnvRetryBaseDelay is the base delay for exponential backoff.
	EnvRetryBaseDelay = "RETRY_BASE_DELAY"

	// EnvRetryMaxAttempts is the number of attempts made for a transient failure.
	EnvRetryMaxAttempts = "RETRY_MAX_ATTEMPTS"

	// EnvSSMConfigParameterName is the SSM parameter storing the directory configuration.
	EnvSSMConfigParameterName = "SSM_CONFIG_PARAMETER_NAME"

	// EnvStateBackend selects the sync state store (dynamodb or postgres).
	EnvStateBackend = "STATE_BACKEND"

	// EnvStuckPendingThreshold is how long a target may stay pending before the sweep fails it.
	EnvStuckPendingThreshold = "STUCK_PENDING_THRESHOLD"

	// EnvWorkerCount is the number of concurrent sync workers.
	EnvWorkerCount = "WORKER_COUNT"
)

const (
	// StateBackendDynamoDB stores sync state in DynamoDB.
	StateBackendDynamoDB = "dynamodb"

	// StateBackendPostgres stores sync state in PostgreSQL.
	StateBackendPostgres = "postgres"
)

// DynamoDB holds AWS DynamoDB configuration.
type DynamoDB struct {
	// StatusIndexName is the Global Secondary Index name for querying targets by sync status.
	StatusIndexName string

	// TableName is the name of the DynamoDB table holding sync targets.
	TableName string
}

// Graph holds Microsoft Graph API configuration.
type Graph struct {
	// APIVersion is the API version path segment.
	APIVersion string

	// Authority is the identity platform authority URL.
	Authority string

	// BaseURL is the base URL for API requests.
	BaseURL string

	// RequestsPerSecond caps the outbound request rate.
	RequestsPerSecond float64

	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// Postgres holds PostgreSQL configuration.
type Postgres struct {
	// DSN is the connection string.
	DSN string

	// TableName is the table or view holding sync targets.
	TableName string
}

// Secrets holds AWS Secrets Manager configuration.
type Secrets struct {
	// ClientSecretARN is the ARN of the secret holding the directory client secret.
	ClientSecretARN string
}

// SSM holds AWS Systems Manager Parameter Store configuration.
type SSM struct {
	// ConfigParameterName is the parameter storing the directory configuration document.
	ConfigParameterName string
}

// Sync holds reconciliation tuning.
type Sync struct {
	// ConfigCacheTTL is how long the directory configuration is cached.
	ConfigCacheTTL time.Duration

	// DryRun disables remote writes and state persistence.
	DryRun bool

	// RetryBaseDelay is the base delay for exponential backoff.
	RetryBaseDelay time.Duration

	// RetryMaxAttempts is the number of attempts made for a transient failure.
	RetryMaxAttempts int

	// StuckPendingThreshold is how long a target may stay pending before it is failed.
	StuckPendingThreshold time.Duration

	// Workers is the number of concurrent sync workers.
	Workers int
}

// Settings holds all configuration for the application.
type Settings struct {
	// DynamoDB contains AWS DynamoDB settings.
	DynamoDB DynamoDB

	// Graph contains Microsoft Graph API settings.
	Graph Graph

	// Postgres contains PostgreSQL settings.
	Postgres Postgres

	// Secrets contains AWS Secrets Manager settings.
	Secrets Secrets

	// SSM contains AWS Systems Manager Parameter Store settings.
	SSM SSM

	// StateBackend selects the sync state store.
	StateBackend string

	// Sync contains reconciliation tuning.
	Sync Sync
}

func (s *Settings) validate() error {
	var errs []error

	switch s.StateBackend {
	case StateBackendDynamoDB:
		if s.DynamoDB.TableName == "" {
			errs = append(errs, requiredError(EnvDynamoDBTableName))
		}
	case StateBackendPostgres:
		if s.Postgres.DSN == "" {
			errs = append(errs, requiredError(EnvPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q",
			EnvStateBackend, StateBackendDynamoDB, StateBackendPostgres, s.StateBackend))
	}
	if s.Secrets.ClientSecretARN == "" {
		errs = append(errs, requiredError(EnvClientSecretARN))
	}
	if s.SSM.ConfigParameterName == "" {
		errs = append(errs, requiredError(EnvSSMConfigParameterName))
	}
	if s.Sync.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", EnvRetryMaxAttempts))
	}
	if s.Sync.Workers < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", EnvWorkerCount))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables.
func Load() (*Settings, error) {
	var errs []error

	cfg := &Settings{
		DynamoDB: DynamoDB{
			StatusIndexName: envOrDefault(EnvDynamoDBStatusIndexName, "SyncStatusIndex"),
			TableName:       strings.TrimSpace(os.Getenv(EnvDynamoDBTableName)),
		},
		Graph: Graph{
			APIVersion:        envOrDefault(EnvGraphAPIVersion, "v1.0"),
			Authority:         envOrDefault(EnvAzureADAuthority, DefaultAuthority),
			BaseURL:           envOrDefault(EnvGraphAPIBaseURL, "https://graph.microsoft.com"),
			RequestsPerSecond: envFloat(EnvGraphRequestsPerSecond, 10, &errs),
			Timeout:           envDuration(EnvHTTPTimeout, 30*time.Second, &errs),
		},
		Postgres: Postgres{
			DSN:       strings.TrimSpace(os.Getenv(EnvPostgresDSN)),
			TableName: envOrDefault(EnvPostgresTableName, "directory_sync_targets"),
		},
		Secrets: Secrets{
			ClientSecretARN: strings.TrimSpace(os.Getenv(EnvClientSecretARN)),
		},
		SSM: SSM{
			ConfigParameterName: strings.TrimSpace(os.Getenv(EnvSSMConfigParameterName)),
		},
		StateBackend: strings.ToLower(envOrDefault(EnvStateBackend, StateBackendDynamoDB)),
		Sync: Sync{
			ConfigCacheTTL:        envDuration(EnvConfigCacheTTL, 5*time.Minute, &errs),
			DryRun:                envBool(EnvDryRun, false, &errs),
			RetryBaseDelay:        envDuration(EnvRetryBaseDelay, 2*time.Second, &errs),
			RetryMaxAttempts:      envInt(EnvRetryMaxAttempts, 4, &errs),
			StuckPendingThreshold: envDuration(EnvStuckPendingThreshold, time.Hour, &errs),
			Workers:               envInt(EnvWorkerCount, 4, &errs),
		},
	}

	if err := errors.Join(append(errs, cfg.validate())...); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error; existing variables are never overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key string, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func envBool(key string, defaultValue bool, errs *[]error) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, value))
		return defaultValue
	}
	return b
}

func envDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return defaultValue
	}
	return d
}

func envFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid number %q", key, value))
		return defaultValue
	}
	return f
}

func envInt(key string, defaultValue int, errs *[]error) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return n
}

func requiredError(envVar string) error {
	return fmt.Errorf("%s is required", envVar)
}
