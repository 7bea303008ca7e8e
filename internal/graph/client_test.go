package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockTokenSource implements TokenSource for testing.
type mockTokenSource struct {
	err   error
	token string
}

// AccessToken returns the configured token or error.
func (m *mockTokenSource) AccessToken(_ context.Context) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.token, nil
}

// recordedRequest captures what the mock API received.
type recordedRequest struct {
	auth   string
	body   map[string]any
	method string
	path   string
}

// newMockGraphServer returns a server that records the last request and replies with status and body.
func newMockGraphServer(t *testing.T, status int, body string, last *recordedRequest) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		last.auth = r.Header.Get("Authorization")
		last.method = r.Method
		last.path = r.URL.Path
		last.body = nil
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &last.body)
		}
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "7")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

// newTestClient builds a client pointed at server with throttling disabled.
func newTestClient(t *testing.T, server *httptest.Server, tokens TokenSource) *Client {
	t.Helper()

	c, err := NewClient(Config{Tokens: tokens},
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRateLimit(0),
	)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		config  Config
		opts    []Option
		wantErr bool
		errMsg  string
	}{
		"valid config": {
			config: Config{Tokens: &mockTokenSource{token: "t"}},
		},
		"missing token source": {
			config:  Config{},
			wantErr: true,
			errMsg:  "token source is required",
		},
		"empty base URL": {
			config:  Config{Tokens: &mockTokenSource{token: "t"}},
			opts:    []Option{WithBaseURL("  ")},
			wantErr: true,
			errMsg:  "base URL cannot be empty",
		},
		"negative rate limit": {
			config:  Config{Tokens: &mockTokenSource{token: "t"}},
			opts:    []Option{WithRateLimit(-1)},
			wantErr: true,
			errMsg:  "rate limit cannot be negative",
		},
		"zero timeout": {
			config:  Config{Tokens: &mockTokenSource{token: "t"}},
			opts:    []Option{WithTimeout(0)},
			wantErr: true,
			errMsg:  "timeout must be positive",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c, err := NewClient(tc.config, tc.opts...)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, c)
			} else {
				require.NoError(t, err)
				require.Equal(t, "https://graph.microsoft.com/v1.0", c.apiURL)
				require.NotNil(t, c.limiter)
			}
		})
	}
}

func TestNewClientWithOptions(t *testing.T) {
	t.Parallel()

	httpClient := &http.Client{Timeout: time.Second}
	c, err := NewClient(Config{Tokens: &mockTokenSource{token: "t"}},
		WithBaseURL("https://graph.example.com/"),
		WithAPIVersion("/beta/"),
		WithHTTPClient(httpClient),
		WithRateLimit(0),
	)

	require.NoError(t, err)
	require.Equal(t, "https://graph.example.com/beta", c.apiURL)
	require.Equal(t, httpClient, c.httpClient)
	require.Nil(t, c.limiter)
}

func TestClient_CreateUser(t *testing.T) {
	t.Parallel()

	var last recordedRequest
	server := newMockGraphServer(t, http.StatusCreated, `{"id":"abc-123"}`, &last)
	defer server.Close()

	c := newTestClient(t, server, &mockTokenSource{token: "bearer-1"})

	id, err := c.CreateUser(context.Background(), UserFields{
		AccountEnabled:  true,
		DisplayName:     "Ada Lovelace",
		Email:           "ada@example.com",
		GivenName:       "Ada",
		HasManager:      true,
		JobTitle:        strings.Repeat("x", 200),
		ManagerRemoteID: "mgr-1",
		Surname:         "Lovelace",
	}, "Temp-Pass-123")

	require.NoError(t, err)
	require.Equal(t, "abc-123", id)
	require.Equal(t, http.MethodPost, last.method)
	require.Equal(t, "/v1.0/users", last.path)
	require.Equal(t, "Bearer bearer-1", last.auth)
	require.Equal(t, "ada", last.body["mailNickname"])
	require.Equal(t, "ada@example.com", last.body["userPrincipalName"])
	require.Len(t, last.body["jobTitle"], 128)
	require.Equal(t, server.URL+"/v1.0/users/mgr-1", last.body["manager@odata.bind"])
	require.NotContains(t, last.body, "businessPhones")

	profile, ok := last.body["passwordProfile"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Temp-Pass-123", profile["password"])
	require.Equal(t, true, profile["forceChangePasswordNextSignIn"])
}

func TestClient_UpdateUser(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		fields      UserFields
		wantManager any
		hasManager  bool
		wantPhones  []any
	}{
		"manager removed is cleared and absent phone clears list": {
			fields:      UserFields{DisplayName: "A"},
			hasManager:  true,
			wantManager: nil,
			wantPhones:  []any{},
		},
		"unlinked manager is omitted": {
			fields:     UserFields{DisplayName: "A", HasManager: true, Phone: " 555-0100 "},
			wantPhones: []any{"555-0100"},
		},
		"linked manager is bound": {
			fields:      UserFields{DisplayName: "A", HasManager: true, ManagerRemoteID: "mgr-9"},
			hasManager:  true,
			wantManager: "/v1.0/users/mgr-9",
			wantPhones:  []any{},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var last recordedRequest
			server := newMockGraphServer(t, http.StatusNoContent, "", &last)
			defer server.Close()

			c := newTestClient(t, server, &mockTokenSource{token: "t"})

			err := c.UpdateUser(context.Background(), "abc-123", tc.fields)

			require.NoError(t, err)
			require.Equal(t, http.MethodPatch, last.method)
			require.Equal(t, "/v1.0/users/abc-123", last.path)
			require.NotContains(t, last.body, "passwordProfile")
			require.NotContains(t, last.body, "userPrincipalName")
			require.Equal(t, tc.wantPhones, last.body["businessPhones"])

			manager, present := last.body["manager@odata.bind"]
			require.Equal(t, tc.hasManager, present)
			if s, ok := tc.wantManager.(string); ok {
				require.Equal(t, server.URL+s, manager)
			} else {
				require.Nil(t, manager)
			}
		})
	}
}

func TestClient_DisableDeleteGet(t *testing.T) {
	t.Parallel()

	var last recordedRequest
	server := newMockGraphServer(t, http.StatusOK, `{"id":"abc-123","userPrincipalName":"ada@example.com","accountEnabled":true}`, &last)
	defer server.Close()

	c := newTestClient(t, server, &mockTokenSource{token: "t"})

	require.NoError(t, c.DisableUser(context.Background(), "abc-123"))
	require.Equal(t, http.MethodPatch, last.method)
	require.Equal(t, map[string]any{"accountEnabled": false}, last.body)

	require.NoError(t, c.DeleteUser(context.Background(), "abc-123"))
	require.Equal(t, http.MethodDelete, last.method)
	require.Equal(t, "/v1.0/users/abc-123", last.path)

	user, err := c.GetUser(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, last.method)
	require.Equal(t, "/v1.0/users/ada@example.com", last.path)
	require.Equal(t, "abc-123", user.ID)
	require.True(t, user.AccountEnabled)
}

func TestClient_Organization(t *testing.T) {
	t.Parallel()

	var last recordedRequest
	server := newMockGraphServer(t, http.StatusOK, `{"value":[{"id":"tenant-1","displayName":"Contoso"}]}`, &last)
	defer server.Close()

	c := newTestClient(t, server, &mockTokenSource{token: "t"})

	org, err := c.Organization(context.Background())

	require.NoError(t, err)
	require.Equal(t, "/v1.0/organization", last.path)
	require.Equal(t, "Contoso", org.DisplayName)
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		status         int
		body           string
		wantKind       ErrorKind
		wantStatus     int
		wantMessage    string
		wantRetryAfter time.Duration
	}{
		"forbidden with graph envelope": {
			status:      http.StatusForbidden,
			body:        `{"error":{"code":"Authorization_RequestDenied","message":"Insufficient privileges to complete the operation."}}`,
			wantKind:    KindHTTP,
			wantStatus:  http.StatusForbidden,
			wantMessage: "HTTP 403: Insufficient privileges",
		},
		"throttled carries retry after": {
			status:         http.StatusTooManyRequests,
			body:           "slow down",
			wantKind:       KindHTTP,
			wantStatus:     http.StatusTooManyRequests,
			wantMessage:    "HTTP 429: slow down",
			wantRetryAfter: 7 * time.Second,
		},
		"accepted is not a success status": {
			status:      http.StatusAccepted,
			wantKind:    KindHTTP,
			wantStatus:  http.StatusAccepted,
			wantMessage: "HTTP 202: Accepted",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var last recordedRequest
			server := newMockGraphServer(t, tc.status, tc.body, &last)
			defer server.Close()

			c := newTestClient(t, server, &mockTokenSource{token: "t"})

			err := c.DeleteUser(context.Background(), "abc-123")

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tc.wantKind, apiErr.Kind)
			require.Equal(t, tc.wantStatus, apiErr.StatusCode)
			require.Contains(t, apiErr.Message, tc.wantMessage)
			require.Equal(t, tc.wantRetryAfter, apiErr.RetryAfter)
		})
	}
}

func TestClient_TokenFailureSkipsNetwork(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tests := map[string]struct {
		tokenErr error
		wantKind ErrorKind
	}{
		"not configured": {
			tokenErr: &AuthError{Reason: AuthNotConfigured, Description: "missing"},
			wantKind: KindUnauthenticated,
		},
		"rejected": {
			tokenErr: &AuthError{Reason: AuthRejected, Description: "bad secret"},
			wantKind: KindUnauthenticated,
		},
		"identity endpoint unreachable": {
			tokenErr: &AuthError{Reason: AuthUnavailable, Description: "dial tcp"},
			wantKind: KindTransport,
		},
		"plain error": {
			tokenErr: errors.New("boom"),
			wantKind: KindUnauthenticated,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, server, &mockTokenSource{err: tc.tokenErr})

			_, err := c.CreateUser(context.Background(), UserFields{Email: "a@b.c"}, "pw")

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tc.wantKind, apiErr.Kind)
		})
	}

	require.Zero(t, hits.Load())
}

func TestClient_TransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	c := newTestClient(t, server, &mockTokenSource{token: "t"})
	server.Close()

	err := c.DisableUser(context.Background(), "abc-123")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, KindTransport, apiErr.Kind)
	require.Zero(t, apiErr.StatusCode)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		value string
		want  time.Duration
	}{
		"empty":        {value: "", want: 0},
		"seconds":      {value: "30", want: 30 * time.Second},
		"negative":     {value: "-3", want: 0},
		"http date":    {value: "Wed, 01 May 2024 12:00:10 GMT", want: 10 * time.Second},
		"date in past": {value: "Wed, 01 May 2024 11:00:00 GMT", want: 0},
		"unparseable":  {value: "soon", want: 0},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, parseRetryAfter(tc.value, now))
		})
	}
}
