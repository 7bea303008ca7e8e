package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildConsentURL(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		authority    string
		tenantID     string
		wantContains []string
	}{
		"default authority": {
			authority: "https://login.microsoftonline.com/",
			tenantID:  "contoso.onmicrosoft.com",
			wantContains: []string{
				"https://login.microsoftonline.com/contoso.onmicrosoft.com/adminconsent?",
				"client_id=my-client-id",
				"redirect_uri=http",
				"state=xyz",
			},
		},
		"authority without trailing slash": {
			authority: "https://login.microsoftonline.us",
			tenantID:  "tenant-1",
			wantContains: []string{
				"https://login.microsoftonline.us/tenant-1/adminconsent?",
			},
		},
		"tenant with path characters": {
			authority: "https://login.microsoftonline.com/",
			tenantID:  "a/b",
			wantContains: []string{
				"/a%2Fb/adminconsent?",
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			result := buildConsentURL(tc.authority, tc.tenantID, "my-client-id", "http://localhost:8080/callback", "xyz")

			for _, want := range tc.wantContains {
				require.Contains(t, result, want)
			}
		})
	}
}

func TestBuildConsentURLParseable(t *testing.T) {
	t.Parallel()

	result := buildConsentURL("https://login.microsoftonline.com/", "tenant-1", "test-client", "http://localhost:8080/callback", "state-1")

	parsed, err := url.Parse(result)
	require.NoError(t, err)
	require.Equal(t, "https", parsed.Scheme)
	require.Equal(t, "login.microsoftonline.com", parsed.Host)
	require.Equal(t, "/tenant-1/adminconsent", parsed.Path)

	query := parsed.Query()
	require.Equal(t, "test-client", query.Get("client_id"))
	require.Equal(t, "http://localhost:8080/callback", query.Get("redirect_uri"))
	require.Equal(t, "state-1", query.Get("state"))
}

func TestGenerateOAuthState(t *testing.T) {
	t.Parallel()

	first, err := generateOAuthState()
	require.NoError(t, err)
	second, err := generateOAuthState()
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.Len(t, first, 44)
}

func TestWriteCallbackResponse(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	writeCallbackResponse(w, "Test <Title>", "Test message here.")

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	body := w.Body.String()
	require.Contains(t, body, "<h1>Test &lt;Title&gt;</h1>")
	require.Contains(t, body, "<p>Test message here.</p>")
	require.Contains(t, body, "You can close this window.")
}

func TestBrowserCommand(t *testing.T) {
	t.Parallel()

	testURL := "https://example.com/consent"
	name, args := browserCommand(testURL)

	require.NotEmpty(t, name)
	require.True(t, slices.Contains(args, testURL), "URL should be in command arguments")
}

func TestServeConsentCallback(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		query      string
		wantErr    string
		wantTenant string
	}{
		"consent granted": {
			query:      "admin_consent=True&tenant=tenant-1&state=expected",
			wantTenant: "tenant-1",
		},
		"consent denied by administrator": {
			query:   "error=access_denied&error_description=The%20admin%20canceled&state=expected",
			wantErr: "access_denied: The admin canceled",
		},
		"state mismatch": {
			query:   "admin_consent=True&tenant=tenant-1&state=other",
			wantErr: "state mismatch",
		},
		"consent flag missing": {
			query:   "tenant=tenant-1&state=expected",
			wantErr: "admin consent was not granted",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			listener, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)

			tenantChan := make(chan string, 1)
			errChan := make(chan error, 1)

			server := serveConsentCallback(listener, tenantChan, errChan, "expected")
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = server.Shutdown(ctx)
			}()

			resp, err := http.Get("http://" + listener.Addr().String() + callbackPath + "?" + tc.query)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			require.Equal(t, http.StatusOK, resp.StatusCode)

			select {
			case tenant := <-tenantChan:
				require.Empty(t, tc.wantErr, "unexpected success")
				require.Equal(t, tc.wantTenant, tenant)
			case err := <-errChan:
				require.NotEmpty(t, tc.wantErr, "unexpected error: %v", err)
				require.Contains(t, err.Error(), tc.wantErr)
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for callback outcome")
			}
		})
	}
}
