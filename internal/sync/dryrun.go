package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/peteski22/dirsync/internal/config"
	"github.com/peteski22/dirsync/internal/graph"
)

// dryRunClient wraps a DirectoryClient and logs write operations instead of executing them.
type dryRunClient struct {
	client  DirectoryClient
	logger  *slog.Logger
	counter uint64
}

// newDryRunClient creates a new dryRunClient that wraps the given DirectoryClient.
func newDryRunClient(client DirectoryClient, logger *slog.Logger) *dryRunClient {
	return &dryRunClient{
		client: client,
		logger: logger,
	}
}

// CreateUser logs what would be created and returns a fake ID.
func (d *dryRunClient) CreateUser(ctx context.Context, fields graph.UserFields, _ config.Secret) (string, error) {
	fakeID := d.nextFakeID("user")

	d.logger.InfoContext(ctx, "[DRY-RUN] would create user",
		"fake_id", fakeID,
		"user_principal_name", fields.Email,
		"display_name", fields.DisplayName,
		"job_title", fields.JobTitle,
		"department", fields.Department,
		"manager_remote_id", fields.ManagerRemoteID)

	return fakeID, nil
}

// DeleteUser logs what would be deleted and returns nil.
func (d *dryRunClient) DeleteUser(ctx context.Context, remoteID string) error {
	d.logger.InfoContext(ctx, "[DRY-RUN] would delete user", "remote_id", remoteID)
	return nil
}

// DisableUser logs what would be disabled and returns nil.
func (d *dryRunClient) DisableUser(ctx context.Context, remoteID string) error {
	d.logger.InfoContext(ctx, "[DRY-RUN] would disable user", "remote_id", remoteID)
	return nil
}

// GetUser delegates to the real client.
func (d *dryRunClient) GetUser(ctx context.Context, idOrPrincipalName string) (*graph.RemoteUser, error) {
	return d.client.GetUser(ctx, idOrPrincipalName)
}

// Organization delegates to the real client.
func (d *dryRunClient) Organization(ctx context.Context) (*graph.Organization, error) {
	return d.client.Organization(ctx)
}

// UpdateUser logs what would be updated and returns nil.
func (d *dryRunClient) UpdateUser(ctx context.Context, remoteID string, fields graph.UserFields) error {
	d.logger.InfoContext(ctx, "[DRY-RUN] would update user",
		"remote_id", remoteID,
		"display_name", fields.DisplayName,
		"account_enabled", fields.AccountEnabled,
		"job_title", fields.JobTitle,
		"department", fields.Department,
		"manager_remote_id", fields.ManagerRemoteID)

	return nil
}

// nextFakeID generates a unique fake ID for dry-run operations.
func (d *dryRunClient) nextFakeID(prefix string) string {
	n := atomic.AddUint64(&d.counter, 1)
	return fmt.Sprintf("dry-run-%s-%d", prefix, n)
}
