package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peteski22/dirsync/internal/config"
	"github.com/peteski22/dirsync/internal/graph"
	"github.com/peteski22/dirsync/internal/storage"
	"github.com/peteski22/dirsync/internal/sync"
)

// newApp wires the AWS-backed stores, the Graph client and the reconciler from settings.
func newApp(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*app, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	secrets, err := storage.NewSecretsManagerSecretStore(secretsmanager.NewFromConfig(awsCfg), settings.Secrets.ClientSecretARN)
	if err != nil {
		return nil, fmt.Errorf("creating secret store: %w", err)
	}

	directoryStore, err := storage.NewSSMDirectoryStore(ssm.NewFromConfig(awsCfg), settings.SSM.ConfigParameterName, secrets)
	if err != nil {
		return nil, fmt.Errorf("creating directory store: %w", err)
	}

	directory, err := config.NewDirectoryCache(directoryStore, settings.Sync.ConfigCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("creating directory cache: %w", err)
	}

	store, err := newTargetStore(ctx, settings, awsCfg)
	if err != nil {
		return nil, err
	}
	if settings.Sync.DryRun {
		store = storage.NewReadOnlyTargetStore(store, logger)
	}

	client, err := newGraphClient(settings, directory, logger)
	if err != nil {
		return nil, err
	}

	reconciler, err := sync.New(sync.Config{
		Client:    client,
		Directory: directory,
		DryRun:    settings.Sync.DryRun,
		Logger:    logger,
		Store:     store,
	})
	if err != nil {
		return nil, fmt.Errorf("creating reconciler: %w", err)
	}

	retrier, err := sync.NewRetrier(reconciler, sync.RetryPolicy{
		BaseDelay:   settings.Sync.RetryBaseDelay,
		MaxAttempts: settings.Sync.RetryMaxAttempts,
		MaxDelay:    sync.DefaultMaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("creating retrier: %w", err)
	}

	logger.InfoContext(ctx, "initialized",
		"state_backend", settings.StateBackend,
		"dry_run", settings.Sync.DryRun,
		"workers", settings.Sync.Workers,
	)

	return &app{
		directory:      directory,
		logger:         logger,
		retrier:        retrier,
		store:          store,
		stuckThreshold: settings.Sync.StuckPendingThreshold,
		workers:        settings.Sync.Workers,
	}, nil
}

// newTargetStore opens the configured state backend.
func newTargetStore(ctx context.Context, settings *config.Settings, awsCfg aws.Config) (sync.TargetStore, error) {
	switch settings.StateBackend {
	case config.StateBackendPostgres:
		pool, err := pgxpool.New(ctx, settings.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		store, err := storage.NewPostgresTargetStore(pool, settings.Postgres.TableName)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("creating postgres target store: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewDynamoDBTargetStore(
			dynamodb.NewFromConfig(awsCfg),
			settings.DynamoDB.TableName,
			settings.DynamoDB.StatusIndexName,
		)
		if err != nil {
			return nil, fmt.Errorf("creating dynamodb target store: %w", err)
		}
		return store, nil
	}
}

// newGraphClient creates the Graph client. Credentials are read through the directory cache on
// every token exchange so that a rotated secret takes effect without a restart.
func newGraphClient(settings *config.Settings, directory *config.DirectoryCache, logger *slog.Logger) (*graph.Client, error) {
	tokens, err := graph.NewTokenProvider(graph.TokenProviderConfig{
		Credentials: func(ctx context.Context) (config.Directory, error) {
			d, err := directory.Directory(ctx)
			if err != nil {
				return config.Directory{}, err
			}
			if d.Authority == "" || d.Authority == config.DefaultAuthority {
				d.Authority = settings.Graph.Authority
			}
			return d, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating token provider: %w", err)
	}

	client, err := graph.NewClient(
		graph.Config{Tokens: tokens},
		graph.WithAPIVersion(settings.Graph.APIVersion),
		graph.WithBaseURL(settings.Graph.BaseURL),
		graph.WithLogger(logger),
		graph.WithRateLimit(settings.Graph.RequestsPerSecond),
		graph.WithTimeout(settings.Graph.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating graph client: %w", err)
	}

	return client, nil
}
