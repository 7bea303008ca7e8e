package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/peteski22/dirsync/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	// exchangeTimeout bounds a token exchange shared by concurrent callers.
	exchangeTimeout = 30 * time.Second

	// defaultTokenDuration is used when the identity endpoint doesn't return an expiry time.
	defaultTokenDuration = 60 * time.Minute

	// tokenExpiryBuffer is the time before expiry to trigger a refresh.
	tokenExpiryBuffer = 5 * time.Minute
)

// CredentialsFunc returns the current directory configuration holding the credentials.
// It is called on every cache miss so that rotated secrets are picked up.
type CredentialsFunc func(ctx context.Context) (config.Directory, error)

// cacheKey identifies a cached token.
type cacheKey struct {
	clientID string
	scope    string
	tenantID string
}

// cachedToken is an access token and its expiry.
type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenProviderConfig holds the required configuration for creating a TokenProvider.
type TokenProviderConfig struct {
	// Credentials supplies tenant, client, secret, authority and scope.
	Credentials CredentialsFunc

	// HTTPClient is the HTTP client for token requests. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// validate checks that all required TokenProviderConfig fields are set.
func (c *TokenProviderConfig) validate() error {
	if c.Credentials == nil {
		return errors.New("credentials function is required")
	}
	return nil
}

// TokenProvider acquires and caches client-credential access tokens for the directory.
type TokenProvider struct {
	// credentials supplies the directory configuration.
	credentials CredentialsFunc

	// group collapses concurrent exchanges for the same key.
	group singleflight.Group

	// httpClient is the HTTP client for token requests.
	httpClient *http.Client

	// mu protects tokens.
	mu sync.RWMutex

	// now returns the current time.
	now func() time.Time

	// tokens holds cached tokens by tenant, client and scope.
	tokens map[cacheKey]cachedToken
}

// NewTokenProvider creates a new TokenProvider.
func NewTokenProvider(cfg TokenProviderConfig) (*TokenProvider, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &TokenProvider{
		credentials: cfg.Credentials,
		httpClient:  httpClient,
		now:         time.Now,
		tokens:      make(map[cacheKey]cachedToken),
	}, nil
}

// AccessToken returns a valid access token, exchanging credentials if necessary.
func (p *TokenProvider) AccessToken(ctx context.Context) (string, error) {
	dir, err := p.credentials(ctx)
	if err != nil {
		return "", &AuthError{
			Description: "loading directory configuration",
			Err:         err,
			Reason:      AuthNotConfigured,
		}
	}
	if !dir.IsConfigured() {
		return "", &AuthError{
			Description: "tenant ID, client ID and client secret are required",
			Reason:      AuthNotConfigured,
		}
	}

	key := cacheKey{
		clientID: strings.TrimSpace(dir.ClientID),
		scope:    scopeOf(dir),
		tenantID: strings.TrimSpace(dir.TenantID),
	}

	if token, ok := p.cachedToken(key); ok {
		return token, nil
	}

	// The shared exchange ignores the cancellation of the caller that started it.
	ch := p.group.DoChan(key.tenantID+"|"+key.clientID+"|"+key.scope, func() (any, error) {
		// Double-check after winning the flight.
		if token, ok := p.cachedToken(key); ok {
			return token, nil
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeTimeout)
		defer cancel()
		return p.exchange(ctx, dir, key)
	})

	select {
	case <-ctx.Done():
		return "", &AuthError{
			Description: "waiting for access token",
			Err:         ctx.Err(),
			Reason:      AuthUnavailable,
		}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops every cached token, forcing the next call to exchange credentials.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.tokens)
}

// cachedToken returns the cached access token for key if valid.
func (p *TokenProvider) cachedToken(key cacheKey) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tok, ok := p.tokens[key]
	if !ok || !p.isTokenValid(tok) {
		return "", false
	}
	return tok.accessToken, true
}

// isTokenValid checks if a token is set and not near expiry.
func (p *TokenProvider) isTokenValid(tok cachedToken) bool {
	return tok.accessToken != "" && p.now().Before(tok.expiresAt.Add(-tokenExpiryBuffer))
}

// exchange performs the client-credential grant and caches the result.
func (p *TokenProvider) exchange(ctx context.Context, dir config.Directory, key cacheKey) (string, error) {
	cc := clientcredentials.Config{
		AuthStyle:    oauth2.AuthStyleInParams,
		ClientID:     key.clientID,
		ClientSecret: strings.TrimSpace(dir.ClientSecret.Reveal()),
		Scopes:       []string{key.scope},
		TokenURL:     dir.TokenURL(),
	}

	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient))
	if err != nil {
		return "", classifyTokenError(err)
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Description: "identity endpoint returned an empty access token", Reason: AuthRejected}
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = p.now().Add(defaultTokenDuration)
	}

	p.mu.Lock()
	p.tokens[key] = cachedToken{accessToken: tok.AccessToken, expiresAt: expiresAt}
	p.mu.Unlock()

	return tok.AccessToken, nil
}

// classifyTokenError converts an exchange error into an AuthError.
func classifyTokenError(err error) *AuthError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		desc := retrieveErr.ErrorDescription
		if desc == "" {
			desc = retrieveErr.ErrorCode
		}
		if desc == "" && retrieveErr.Response != nil {
			desc = fmt.Sprintf("identity endpoint returned status %d", retrieveErr.Response.StatusCode)
		}
		reason := AuthRejected
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			reason = AuthUnavailable
		}
		return &AuthError{Description: desc, Err: err, Reason: reason}
	}

	return &AuthError{Description: err.Error(), Err: err, Reason: AuthUnavailable}
}

// scopeOf returns the configured scope or the Graph default.
func scopeOf(dir config.Directory) string {
	if s := strings.TrimSpace(dir.Scope); s != "" {
		return s
	}
	return config.DefaultScope
}
