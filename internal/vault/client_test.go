package vault

import (
	"context"
	"testing"

	"trading-signal-engine/config"
)

func TestDisabledClientIsPassThrough(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Enabled() {
		t.Error("disabled client reports enabled")
	}
	creds, err := c.GetCredentials(context.Background())
	if err != nil {
		t.Fatalf("GetCredentials: %v", err)
	}
	if creds.APIKey != "" || creds.SecretKey != "" {
		t.Errorf("disabled client returned credentials: %+v", creds)
	}
}

func TestResolveKeepsConfiguredCredentials(t *testing.T) {
	c, err := NewClient(config.VaultConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	market := config.MarketConfig{APIKey: "key", SecretKey: "secret"}
	if err := c.Resolve(context.Background(), &market); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if market.APIKey != "key" || market.SecretKey != "secret" {
		t.Errorf("resolve overwrote configured credentials: %+v", market)
	}
}
