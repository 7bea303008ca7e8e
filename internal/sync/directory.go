package sync

import (
	"context"

	"github.com/peteski22/dirsync/internal/config"
	"github.com/peteski22/dirsync/internal/graph"
)

// DirectoryClient defines the remote directory operations required by the Reconciler.
type DirectoryClient interface {
	// CreateUser creates a remote user and returns its object ID.
	CreateUser(ctx context.Context, fields graph.UserFields, password config.Secret) (string, error)

	// DeleteUser permanently deletes a remote user.
	DeleteUser(ctx context.Context, remoteID string) error

	// DisableUser blocks sign-in for a remote user.
	DisableUser(ctx context.Context, remoteID string) error

	// GetUser reads a remote user by object ID or user principal name.
	GetUser(ctx context.Context, idOrPrincipalName string) (*graph.RemoteUser, error)

	// Organization returns the tenant organization.
	Organization(ctx context.Context) (*graph.Organization, error)

	// UpdateUser patches a remote user.
	UpdateUser(ctx context.Context, remoteID string, fields graph.UserFields) error
}
