package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configDirName      = ".dirsync"
	configFileName     = "config.yaml"
	defaultConsentPort = "8080"
	secretFileName     = "client_secret"
)

// LocalConfig holds configuration loaded from the local operator file.
type LocalConfig struct {
	// ConsentPort is the local port receiving the admin consent callback.
	ConsentPort string

	// Directory holds the directory credentials and defaults.
	Directory Directory

	// GraphBaseURL is the Graph API base URL including the version.
	GraphBaseURL string
}

// localConfig represents the local configuration file structure.
type localConfig struct {
	Consent localConsent `yaml:"consent"`
	Graph   localGraph   `yaml:"graph"`
	Tenant  localTenant  `yaml:"tenant"`
}

// localConsent represents the consent section of the config file.
type localConsent struct {
	Port string `yaml:"port"`
}

// localGraph represents the graph section of the config file.
type localGraph struct {
	BaseURL string `yaml:"base_url"`
	Scope   string `yaml:"scope"`
}

// localTenant represents the tenant section of the config file.
type localTenant struct {
	Authority    string `yaml:"authority"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	ID           string `yaml:"id"`
}

// ConfigDir returns the dirsync configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ConfigFilePath returns the path to the local config file.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// SecretFilePath returns the path to the local client secret file.
func SecretFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, secretFileName), nil
}

// LoadLocal loads configuration from the local config file.
func LoadLocal() (*LocalConfig, error) {
	configPath, err := ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadLocalFile(configPath)
}

// LoadLocalFile loads configuration from the given YAML file.
func LoadLocalFile(configPath string) (*LocalConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run 'dirsync init' to create)", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var local localConfig
	if err := yaml.Unmarshal(data, &local); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	dir := DefaultDirectory()
	dir.ClientID = strings.TrimSpace(local.Tenant.ClientID)
	dir.ClientSecret = Secret(strings.TrimSpace(local.Tenant.ClientSecret))
	dir.TenantID = strings.TrimSpace(local.Tenant.ID)
	if v := strings.TrimSpace(local.Tenant.Authority); v != "" {
		dir.Authority = v
	}
	if v := strings.TrimSpace(local.Graph.Scope); v != "" {
		dir.Scope = v
	}

	cfg := &LocalConfig{
		ConsentPort:  strings.TrimSpace(local.Consent.Port),
		Directory:    dir,
		GraphBaseURL: strings.TrimSpace(local.Graph.BaseURL),
	}
	if cfg.ConsentPort == "" {
		cfg.ConsentPort = defaultConsentPort
	}
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = "https://graph.microsoft.com/v1.0"
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LocalConfigExists checks if a local config file exists.
func LocalConfigExists() bool {
	configPath, err := ConfigFilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(configPath)
	return err == nil
}

// validate checks that required fields are set.
func (c *LocalConfig) validate() error {
	var errs []error

	if c.Directory.TenantID == "" {
		errs = append(errs, errors.New("tenant.id is required"))
	}
	if c.Directory.ClientID == "" {
		errs = append(errs, errors.New("tenant.client_id is required"))
	}
	if err := c.Directory.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
