package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/peteski22/dirsync/internal/config"
	"github.com/peteski22/dirsync/internal/graph"
	"github.com/peteski22/dirsync/internal/storage"
)

// testTimeout bounds the local connection test.
const testTimeout = 30 * time.Second

// runSetSecret stores the client secret read from in.
func runSetSecret(ctx context.Context, in io.Reader) error {
	secretPath, err := config.SecretFilePath()
	if err != nil {
		return fmt.Errorf("getting secret path: %w", err)
	}

	fmt.Println("Paste the client secret value and press Enter:")

	secret, err := readSecret(in)
	if err != nil {
		return err
	}

	store, err := storage.NewFileSecretStore(secretPath)
	if err != nil {
		return fmt.Errorf("creating secret store: %w", err)
	}
	if err := store.SaveClientSecret(ctx, secret); err != nil {
		return fmt.Errorf("saving client secret: %w", err)
	}

	fmt.Printf("Client secret saved to: %s\n", secretPath)
	return nil
}

// readSecret reads the first line of in as a secret.
func readSecret(in io.Reader) (config.Secret, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}

	secret := config.Secret(strings.TrimSpace(line))
	if secret.IsZero() {
		return "", errors.New("no secret provided")
	}
	return secret, nil
}

// runTest checks the local credentials against the directory.
func runTest(ctx context.Context, out io.Writer) error {
	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	secretPath, err := config.SecretFilePath()
	if err != nil {
		return fmt.Errorf("getting secret path: %w", err)
	}
	secrets, err := storage.NewFileSecretStore(secretPath)
	if err != nil {
		return fmt.Errorf("creating secret store: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	return testConnection(ctx, cfg, secrets, out)
}

// testConnection acquires a token and reads the tenant organization. The secret from the config
// file wins over the one in secrets.
func testConnection(ctx context.Context, cfg *config.LocalConfig, secrets storage.SecretStore, out io.Writer) error {
	dir := cfg.Directory
	if dir.ClientSecret.IsZero() {
		secret, err := secrets.ClientSecret(ctx)
		if err != nil {
			return fmt.Errorf("loading client secret: %w", err)
		}
		dir.ClientSecret = secret
	}
	if !dir.IsConfigured() {
		return errors.New("client secret is not set (run 'dirsync set-secret')")
	}

	baseURL, version, err := splitGraphURL(cfg.GraphBaseURL)
	if err != nil {
		return err
	}

	tokens, err := graph.NewTokenProvider(graph.TokenProviderConfig{
		Credentials: func(context.Context) (config.Directory, error) { return dir, nil },
	})
	if err != nil {
		return fmt.Errorf("creating token provider: %w", err)
	}

	client, err := graph.NewClient(
		graph.Config{Tokens: tokens},
		graph.WithAPIVersion(version),
		graph.WithBaseURL(baseURL),
	)
	if err != nil {
		return fmt.Errorf("creating graph client: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Requesting a token for tenant %s...\n", dir.TenantID)

	org, err := client.Organization(ctx)
	if err != nil {
		return fmt.Errorf("reading organization: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Connected to %s (%s)\n", org.DisplayName, org.ID)
	return nil
}

// splitGraphURL splits a Graph URL such as https://graph.microsoft.com/v1.0 into its base and version.
func splitGraphURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return "", "", fmt.Errorf("parsing graph base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("graph base URL %q must be absolute", raw)
	}

	version := path.Base(u.Path)
	if u.Path == "" || version == "/" || version == "." {
		return "", "", fmt.Errorf("graph base URL %q must end with an API version", raw)
	}

	u.Path = path.Dir(u.Path)
	return strings.TrimRight(u.String(), "/"), version, nil
}
