package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/peteski22/dirsync/internal/config"
	"golang.org/x/time/rate"
)

// TokenSource provides bearer tokens for API requests.
type TokenSource interface {
	// AccessToken returns a valid access token.
	AccessToken(ctx context.Context) (string, error)
}

// Config holds the required configuration for creating a Client.
type Config struct {
	// Tokens provides access tokens.
	Tokens TokenSource
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	if c.Tokens == nil {
		return errors.New("token source is required")
	}
	return nil
}

// Client is a Microsoft Graph users API client.
type Client struct {
	// apiURL is the base URL joined with the API version.
	apiURL string

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// limiter throttles outbound requests. Nil disables throttling.
	limiter *rate.Limiter

	// logger is the structured logger.
	logger *slog.Logger

	// now returns the current time.
	now func() time.Time

	// tokens provides access tokens.
	tokens TokenSource
}

// NewClient creates a new Microsoft Graph client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}

	var limiter *rate.Limiter
	if o.requestsPerSecond > 0 {
		burst := int(math.Max(1, math.Ceil(o.requestsPerSecond)))
		limiter = rate.NewLimiter(rate.Limit(o.requestsPerSecond), burst)
	}

	return &Client{
		apiURL:     o.baseURL + "/" + o.apiVersion,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     o.logger,
		now:        time.Now,
		tokens:     cfg.Tokens,
	}, nil
}

// CreateUser creates a remote user and returns its object ID.
func (c *Client) CreateUser(ctx context.Context, fields UserFields, password config.Secret) (string, error) {
	user := newCreateUser(fields, password, c.managerURL(fields.ManagerRemoteID))

	var result createResponse
	if err := c.doRequest(ctx, http.MethodPost, c.apiURL+"/users", user, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", &APIError{
			Kind:       KindHTTP,
			Message:    "create response did not include an id",
			StatusCode: http.StatusCreated,
		}
	}

	return result.ID, nil
}

// DeleteUser permanently deletes a remote user.
func (c *Client) DeleteUser(ctx context.Context, remoteID string) error {
	return c.doRequest(ctx, http.MethodDelete, c.userURL(remoteID), nil, nil)
}

// DisableUser blocks sign-in for a remote user.
func (c *Client) DisableUser(ctx context.Context, remoteID string) error {
	return c.doRequest(ctx, http.MethodPatch, c.userURL(remoteID), disablePayload{AccountEnabled: false}, nil)
}

// GetUser reads a remote user by object ID or user principal name.
func (c *Client) GetUser(ctx context.Context, idOrPrincipalName string) (*RemoteUser, error) {
	var user RemoteUser
	if err := c.doRequest(ctx, http.MethodGet, c.userURL(idOrPrincipalName), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Organization returns the tenant organization, used to test connectivity and permissions.
func (c *Client) Organization(ctx context.Context) (*Organization, error) {
	var result organizationResponse
	if err := c.doRequest(ctx, http.MethodGet, c.apiURL+"/organization", nil, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 {
		return &Organization{}, nil
	}
	return &result.Value[0], nil
}

// UpdateUser patches a remote user with the mapped local fields.
func (c *Client) UpdateUser(ctx context.Context, remoteID string, fields UserFields) error {
	user := newUpdateUser(fields, c.managerURL(fields.ManagerRemoteID))
	return c.doRequest(ctx, http.MethodPatch, c.userURL(remoteID), user, nil)
}

// doRequest executes an HTTP request with authentication and JSON encoding.
// Every failure is returned as an *APIError.
func (c *Client) doRequest(ctx context.Context, method string, reqURL string, body any, result any) error {
	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return newTokenError(err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return &APIError{Err: err, Kind: KindHTTP, Message: fmt.Sprintf("marshaling request body: %v", err)}
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return newTransportError(fmt.Errorf("waiting for rate limiter: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return newTransportError(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newTransportError(fmt.Errorf("executing request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return newTransportError(fmt.Errorf("reading response: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		apiErr := newHTTPError(resp, respBody, c.now())
		c.logger.WarnContext(ctx, "graph request failed",
			"method", method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"code", apiErr.Code,
		)
		return apiErr
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &APIError{
				Body:       string(respBody),
				Err:        err,
				Kind:       KindHTTP,
				Message:    fmt.Sprintf("decoding response: %v", err),
				StatusCode: resp.StatusCode,
			}
		}
	}

	return nil
}

// managerURL returns the binding URL, or empty if remoteID is empty.
func (c *Client) managerURL(remoteID string) string {
	if remoteID == "" {
		return ""
	}
	return c.userURL(remoteID)
}

// userURL returns the resource URL of a user.
func (c *Client) userURL(idOrPrincipalName string) string {
	return c.apiURL + "/users/" + url.PathEscape(idOrPrincipalName)
}
