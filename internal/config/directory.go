package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultAuthority is the Microsoft identity platform authority.
	DefaultAuthority = "https://login.microsoftonline.com/"

	// DefaultPasswordLength is the temporary password length for new remote accounts.
	DefaultPasswordLength = 12

	// DefaultScope is the Microsoft Graph application scope.
	DefaultScope = "https://graph.microsoft.com/.default"

	// DefaultSyncInterval is the interval between automatic full syncs.
	DefaultSyncInterval = 24 * time.Hour

	// defaultCacheTTL is used when no TTL is supplied to the cache.
	defaultCacheTTL = 5 * time.Minute

	// loadTimeout bounds a configuration load shared by concurrent callers.
	loadTimeout = 30 * time.Second
)

// ConnectionStatus is the cached result of the last connection test.
type ConnectionStatus string

const (
	// ConnectionConnected means the last test reached the directory.
	ConnectionConnected ConnectionStatus = "connected"

	// ConnectionFailed means the last test failed.
	ConnectionFailed ConnectionStatus = "failed"

	// ConnectionTesting means a test is in progress.
	ConnectionTesting ConnectionStatus = "testing"

	// ConnectionUnknown means no test has been run.
	ConnectionUnknown ConnectionStatus = "unknown"
)

// ConnectionTest is the cached outcome of a connection test.
type ConnectionTest struct {
	// LastError is the error from the last failed test.
	LastError string `json:"last_error,omitempty"`

	// LastTestedAt is when the last test completed.
	LastTestedAt time.Time `json:"last_tested_at,omitzero"`

	// Status is the test outcome.
	Status ConnectionStatus `json:"status"`
}

// Directory is the directory synchronization configuration singleton.
// It gates all sync behaviour and carries the credentials for the remote directory.
type Directory struct {
	// Authority is the identity platform authority URL.
	Authority string `json:"authority"`

	// ClientID is the application (client) identifier.
	ClientID string `json:"client_id"`

	// ClientSecret is the application secret. It is persisted separately from
	// the rest of the document.
	ClientSecret Secret `json:"-"`

	// Connection is the cached connection test result.
	Connection ConnectionTest `json:"connection"`

	// EnableAutomaticSync enables periodic full synchronization.
	EnableAutomaticSync bool `json:"enable_automatic_sync"`

	// Enabled is the master switch for the integration.
	Enabled bool `json:"enabled"`

	// LastAutomaticSync is when the last automatic full sync was started.
	LastAutomaticSync time.Time `json:"last_automatic_sync,omitzero"`

	// PasswordLength is the temporary password length for newly created accounts.
	PasswordLength int `json:"default_password_length"`

	// Scope is the OAuth scope requested for directory tokens.
	Scope string `json:"scope"`

	// SyncEnabled enables user synchronization.
	SyncEnabled bool `json:"sync_enabled"`

	// SyncInterval is the interval between automatic full syncs.
	SyncInterval time.Duration `json:"sync_interval"`

	// SyncOnCreate enqueues a sync when a local user is created.
	SyncOnCreate bool `json:"sync_on_user_create"`

	// SyncOnDisable disables the remote account when a local user is deactivated.
	SyncOnDisable bool `json:"sync_on_user_disable"`

	// SyncOnUpdate enqueues a sync when a local user is updated.
	SyncOnUpdate bool `json:"sync_on_user_update"`

	// TenantID is the directory (tenant) identifier.
	TenantID string `json:"tenant_id"`
}

// DefaultDirectory returns the configuration used when none has been saved yet.
func DefaultDirectory() Directory {
	return Directory{
		Authority:      DefaultAuthority,
		Connection:     ConnectionTest{Status: ConnectionUnknown},
		PasswordLength: DefaultPasswordLength,
		Scope:          DefaultScope,
		SyncInterval:   DefaultSyncInterval,
		SyncOnCreate:   true,
		SyncOnDisable:  true,
		SyncOnUpdate:   true,
	}
}

// IsConfigured reports whether tenant, client and secret are all present.
func (d Directory) IsConfigured() bool {
	return strings.TrimSpace(d.TenantID) != "" &&
		strings.TrimSpace(d.ClientID) != "" &&
		strings.TrimSpace(d.ClientSecret.Reveal()) != ""
}

// SyncActive reports whether both the integration and user sync are switched on.
func (d Directory) SyncActive() bool {
	return d.Enabled && d.SyncEnabled
}

// TokenURL returns the client-credential token endpoint for the tenant.
func (d Directory) TokenURL() string {
	authority := d.Authority
	if authority == "" {
		authority = DefaultAuthority
	}
	return strings.TrimRight(authority, "/") + "/" + strings.TrimSpace(d.TenantID) + "/oauth2/v2.0/token"
}

// Validate checks values an administrator may have set incorrectly.
func (d Directory) Validate() error {
	var errs []error
	if d.PasswordLength != 0 && (d.PasswordLength < 8 || d.PasswordLength > 256) {
		errs = append(errs, fmt.Errorf("password length must be between 8 and 256, got %d", d.PasswordLength))
	}
	if d.SyncInterval < 0 {
		errs = append(errs, errors.New("sync interval cannot be negative"))
	}
	if d.Scope != "" && !strings.HasSuffix(d.Scope, "/.default") {
		errs = append(errs, fmt.Errorf("scope %q must be an application scope ending in /.default", d.Scope))
	}
	return errors.Join(errs...)
}

// DirectoryStore persists the directory configuration singleton.
type DirectoryStore interface {
	// LoadDirectory returns the stored configuration, or defaults when none exists.
	LoadDirectory(ctx context.Context) (Directory, error)

	// SaveDirectory persists the configuration.
	SaveDirectory(ctx context.Context, d Directory) error
}

// DirectoryCache is a read-mostly, TTL-bounded cache over a DirectoryStore.
// Writers go through Save, which bumps the generation so readers never see a
// value cached before the write.
type DirectoryCache struct {
	// cached is the last loaded configuration.
	cached Directory

	// generation increments on every write.
	generation uint64

	// group collapses concurrent loads for the same generation.
	group singleflight.Group

	// loadedAt is when cached was loaded.
	loadedAt time.Time

	// loadedGen is the generation cached belongs to.
	loadedGen uint64

	// mu protects cache state.
	mu sync.RWMutex

	// now returns the current time.
	now func() time.Time

	// store is the backing persistence.
	store DirectoryStore

	// ttl is how long a loaded value stays fresh.
	ttl time.Duration

	// valid indicates cached holds a loaded value.
	valid bool
}

// NewDirectoryCache creates a cache over the given store.
func NewDirectoryCache(store DirectoryStore, ttl time.Duration) (*DirectoryCache, error) {
	if store == nil {
		return nil, errors.New("directory store is required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &DirectoryCache{
		now:   time.Now,
		store: store,
		ttl:   ttl,
	}, nil
}

// Directory returns the current configuration, loading it when the cache is stale.
func (c *DirectoryCache) Directory(ctx context.Context) (Directory, error) {
	if d, ok := c.fresh(); ok {
		return d, nil
	}

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	// The shared load ignores the cancellation of the caller that started it.
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		d, err := c.store.LoadDirectory(ctx)
		if err != nil {
			return Directory{}, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		// A write landed while loading; the caller still gets this value but it is not cached.
		if c.generation == gen {
			c.cached = d
			c.loadedAt = c.now()
			c.loadedGen = gen
			c.valid = true
		}
		return d, nil
	})

	select {
	case <-ctx.Done():
		return Directory{}, fmt.Errorf("loading directory configuration: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Directory{}, fmt.Errorf("loading directory configuration: %w", res.Err)
		}
		return res.Val.(Directory), nil
	}
}

// Generation returns the current write generation.
func (c *DirectoryCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Invalidate drops the cached value without writing.
func (c *DirectoryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.valid = false
}

// RecordAutomaticSync stores the start time of an automatic full sync.
func (c *DirectoryCache) RecordAutomaticSync(ctx context.Context, at time.Time) error {
	return c.update(ctx, func(d *Directory) {
		d.LastAutomaticSync = at
	})
}

// RecordConnectionTest stores the outcome of a connection test.
func (c *DirectoryCache) RecordConnectionTest(ctx context.Context, test ConnectionTest) error {
	return c.update(ctx, func(d *Directory) {
		d.Connection = test
	})
}

// Save validates and persists the configuration, then invalidates the cache.
func (c *DirectoryCache) Save(ctx context.Context, d Directory) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid directory configuration: %w", err)
	}
	if err := c.store.SaveDirectory(ctx, d); err != nil {
		return fmt.Errorf("saving directory configuration: %w", err)
	}
	c.Invalidate()
	return nil
}

// fresh returns the cached value if it is loaded, current and within TTL.
func (c *DirectoryCache) fresh() (Directory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid || c.loadedGen != c.generation {
		return Directory{}, false
	}
	if c.now().Sub(c.loadedAt) >= c.ttl {
		return Directory{}, false
	}
	return c.cached, true
}

// update applies fn to a freshly loaded configuration and saves it.
func (c *DirectoryCache) update(ctx context.Context, fn func(d *Directory)) error {
	d, err := c.store.LoadDirectory(ctx)
	if err != nil {
		return fmt.Errorf("loading directory configuration: %w", err)
	}
	fn(&d)
	return c.Save(ctx, d)
}
