package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/peteski22/dirsync/internal/config"
)

const (
	callbackPath    = "/callback"
	consentTimeout  = 5 * time.Minute
	stateByteLength = 32
)

// buildConsentURL constructs the tenant-wide admin consent URL for the application.
func buildConsentURL(authority string, tenantID string, clientID string, redirectURI string, state string) string {
	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)

	return strings.TrimRight(authority, "/") + "/" + url.PathEscape(tenantID) + "/adminconsent?" + params.Encode()
}

// generateOAuthState generates a cryptographically secure random state for CSRF protection.
func generateOAuthState() (string, error) {
	b := make([]byte, stateByteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// browserCommand returns the command and arguments to open a URL on the current OS.
func browserCommand(targetURL string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", []string{targetURL}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", targetURL}
	default:
		return "xdg-open", []string{targetURL}
	}
}

// openBrowser opens the default web browser to the specified URL.
func openBrowser(targetURL string) error {
	name, args := browserCommand(targetURL)
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout

	return cmd.Start()
}

// runConsent asks a tenant administrator to grant the application's permissions.
// It starts a local server, opens the browser on the consent page and waits for the redirect.
func runConsent() error {
	fmt.Println("=== Admin Consent ===")
	fmt.Println()

	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	state, err := generateOAuthState()
	if err != nil {
		return fmt.Errorf("generating OAuth state: %w", err)
	}

	listener, err := net.Listen("tcp", "localhost:"+cfg.ConsentPort)
	if err != nil {
		return fmt.Errorf("port %s is already in use", cfg.ConsentPort)
	}

	tenantChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server := serveConsentCallback(listener, tenantChan, errChan, state)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	redirectURI := fmt.Sprintf("http://localhost:%s%s", cfg.ConsentPort, callbackPath)
	consentURL := buildConsentURL(cfg.Directory.Authority, cfg.Directory.TenantID, cfg.Directory.ClientID, redirectURI, state)

	fmt.Println("Opening browser for admin consent...")
	fmt.Println()
	fmt.Println("If the browser doesn't open, visit this URL:")
	fmt.Println(consentURL)
	fmt.Println()

	if err := openBrowser(consentURL); err != nil {
		fmt.Printf("Could not open browser: %s\n", err)
	}

	fmt.Println("Waiting for consent...")

	var tenant string
	select {
	case tenant = <-tenantChan:
	case err := <-errChan:
		return fmt.Errorf("consent failed: %w", err)
	case <-time.After(consentTimeout):
		return fmt.Errorf("consent timed out after %s", consentTimeout)
	}

	fmt.Println()
	fmt.Printf("Admin consent granted for tenant %s\n", tenant)
	fmt.Println()
	fmt.Println("You can now run:")
	fmt.Println("  dirsync test")

	return nil
}

// serveConsentCallback serves the admin consent redirect on listener.
// It sends the consenting tenant or an error through the provided channels. The callback must
// carry expectedState.
func serveConsentCallback(
	listener net.Listener,
	tenantChan chan<- string,
	errChan chan<- error,
	expectedState string,
) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		errMsg := query.Get("error")
		errDesc := query.Get("error_description")

		if errMsg != "" {
			report(errChan, fmt.Errorf("%s: %s", errMsg, errDesc))
			writeCallbackResponse(w, "Consent Failed", fmt.Sprintf("%s: %s", errMsg, errDesc))
			return
		}

		if expectedState != "" && query.Get("state") != expectedState {
			report(errChan, errors.New("state mismatch: possible CSRF attack"))
			writeCallbackResponse(w, "Consent Failed", "State validation failed.")
			return
		}

		if !strings.EqualFold(query.Get("admin_consent"), "true") {
			report(errChan, errors.New("admin consent was not granted"))
			writeCallbackResponse(w, "Consent Failed", "Admin consent was not granted.")
			return
		}

		report(tenantChan, query.Get("tenant"))
		writeCallbackResponse(w, "Consent Granted", "You can return to the terminal.")
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			report(errChan, fmt.Errorf("server error: %w", err))
		}
	}()

	return server
}

// report sends v without blocking; only the first outcome is kept.
func report[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// writeCallbackResponse writes an HTML response for the consent callback page.
// It escapes the title and message to prevent XSS attacks.
func writeCallbackResponse(w http.ResponseWriter, title string, message string) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(
		w,
		`<html><body><h1>%s</h1><p>%s</p><p>You can close this window.</p></body></html>`,
		html.EscapeString(title),
		html.EscapeString(message),
	)
}
