package main

import (
	"fmt"
	"os"

	"github.com/peteski22/dirsync/internal/config"
)

const configTemplate = `# dirsync configuration
# Register an application in Microsoft Entra ID with the User.ReadWrite.All
# and Organization.Read.All application permissions.

tenant:
  # Directory (tenant) ID from the app registration overview.
  id: ""
  # Application (client) ID from the app registration overview.
  client_id: ""
  # Client secret value. Leave empty to use 'dirsync set-secret' instead.
  client_secret: ""
  # Identity platform authority (default: https://login.microsoftonline.com/).
  authority: ""

graph:
  # Graph API base URL including the version (default: https://graph.microsoft.com/v1.0).
  base_url: ""
  # Application scope (default: https://graph.microsoft.com/.default).
  scope: ""

consent:
  # Local port for the admin consent redirect (default: 8080).
  # Register http://localhost:<port>/callback as a redirect URI.
  port: ""
`

// runInit creates a sample configuration file.
func runInit() error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	configPath, err := config.ConfigFilePath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	secretPath, err := config.SecretFilePath()
	if err != nil {
		return fmt.Errorf("getting secret path: %w", err)
	}

	fmt.Println("Created config file:", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit the config file with your tenant and application IDs")
	fmt.Println("  2. Run 'dirsync set-secret' and paste the client secret")
	fmt.Println("  3. Run 'dirsync consent' to grant admin consent")
	fmt.Println("  4. Run 'dirsync test' to check the connection")
	fmt.Println()
	fmt.Printf("Client secret will be stored at: %s\n", secretPath)

	return nil
}
