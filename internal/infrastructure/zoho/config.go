package zoho

import (
	"errors"
	"time"

	"github.com/erp/syncengine/internal/infrastructure/config"
)

// Default endpoints for the US data center.
const (
	DefaultBaseURL     = "https://www.zohoapis.com/inventory/v1"
	DefaultAccountsURL = "https://accounts.zoho.com"
)

// Errors for Zoho configuration
var (
	ErrConfigMissingOrganization = errors.New("zoho: organization id is required")
	ErrConfigMissingClientID     = errors.New("zoho: client id is required")
	ErrConfigMissingClientSecret = errors.New("zoho: client secret is required")
	ErrConfigMissingRefreshToken = errors.New("zoho: refresh token is required")
)

// Config holds the Zoho API connection settings
type Config struct {
	// BaseURL is the API root, e.g. https://www.zohoapis.com/inventory/v1
	BaseURL string
	// AccountsURL is the OAuth server root
	AccountsURL    string
	OrganizationID string
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	// RequestTimeout bounds every single HTTP call
	RequestTimeout time.Duration
	// RequestsPerMinute is the client-side rate limit
	RequestsPerMinute int
	Burst             int
	PageSize          int
}

// ConfigFrom converts the application configuration
func ConfigFrom(cfg config.ZohoConfig) Config {
	return Config{
		BaseURL:           cfg.BaseURL,
		AccountsURL:       cfg.AccountsURL,
		OrganizationID:    cfg.OrganizationID,
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		RefreshToken:      cfg.RefreshToken,
		RequestTimeout:    cfg.RequestTimeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		PageSize:          cfg.PageSize,
	}
}

// Validate validates the configuration and fills defaults
func (c *Config) Validate() error {
	if c.OrganizationID == "" {
		return ErrConfigMissingOrganization
	}
	if c.ClientID == "" {
		return ErrConfigMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrConfigMissingClientSecret
	}
	if c.RefreshToken == "" {
		return ErrConfigMissingRefreshToken
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.AccountsURL == "" {
		c.AccountsURL = DefaultAccountsURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 100
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.PageSize <= 0 || c.PageSize > 200 {
		c.PageSize = 200
	}
	return nil
}
