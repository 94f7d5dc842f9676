// Package vault resolves exchange credentials from HashiCorp Vault. When
// Vault is disabled the credentials from config/environment are used as-is.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"trading-signal-engine/config"
)

// Credentials is the exchange API key pair stored under the KV v2 path.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config config.VaultConfig
}

// NewClient builds the Vault client. With Vault disabled the client is a
// pass-through that always reports no stored credentials.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// Enabled reports whether lookups hit Vault.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// GetCredentials reads the key pair from the configured KV v2 path. A
// missing secret returns empty credentials, not an error, so callers can
// fall through to config values.
func (c *Client) GetCredentials(ctx context.Context) (Credentials, error) {
	if !c.config.Enabled {
		return Credentials{}, nil
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("unexpected secret shape at %s", path)
	}

	var creds Credentials
	if v, ok := data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := data["secret_key"].(string); ok {
		creds.SecretKey = v
	}
	return creds, nil
}

// Resolve fills in market credentials from Vault when they are not already
// set in config.
func (c *Client) Resolve(ctx context.Context, market *config.MarketConfig) error {
	if market.APIKey != "" && market.SecretKey != "" {
		return nil
	}
	creds, err := c.GetCredentials(ctx)
	if err != nil {
		return err
	}
	if market.APIKey == "" {
		market.APIKey = creds.APIKey
	}
	if market.SecretKey == "" {
		market.SecretKey = creds.SecretKey
	}
	return nil
}
