package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bazaar.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("expected default address, got %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Events.Driver != "memory" {
		t.Fatalf("expected memory defaults, got %q/%q", cfg.Storage.Driver, cfg.Events.Driver)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("expected openai provider default, got %q", cfg.LLM.Provider)
	}
	if cfg.Demo.RateLimit != 3 || cfg.Demo.Window() != time.Hour {
		t.Fatalf("expected demo rate limit defaults, got %d/%s", cfg.Demo.RateLimit, cfg.Demo.Window())
	}
	if cfg.Alerting.FailureThreshold != 3 || cfg.Alerting.Window() != 5*time.Minute {
		t.Fatalf("unexpected alerting defaults: %+v", cfg.Alerting)
	}
}

func TestLoadResolvesRelativePathsAndEnvSecrets(t *testing.T) {
	t.Setenv("TEST_BAZAAR_PRIVATE_KEY", "0xsecret")

	path := writeConfig(t, `{
        "web3": {"chain_config": "chains.yaml", "private_key_env": "TEST_BAZAAR_PRIVATE_KEY"},
        "registry": {"catalog_path": "tools.yaml"}
    }`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	baseDir := filepath.Dir(path)
	if cfg.Web3.ChainConfig != filepath.Join(baseDir, "chains.yaml") {
		t.Fatalf("expected chain config under config dir, got %q", cfg.Web3.ChainConfig)
	}
	if cfg.Registry.CatalogPath != filepath.Join(baseDir, "tools.yaml") {
		t.Fatalf("expected catalog under config dir, got %q", cfg.Registry.CatalogPath)
	}
	if cfg.Web3.PrivateKey != "0xsecret" {
		t.Fatalf("expected private key from env, got %q", cfg.Web3.PrivateKey)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOpenAITimeout(t *testing.T) {
	if got := (OpenAIConfig{}).Timeout(); got != 60*time.Second {
		t.Fatalf("expected 60s default, got %s", got)
	}
	if got := (OpenAIConfig{TimeoutSeconds: 5}).Timeout(); got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
}
