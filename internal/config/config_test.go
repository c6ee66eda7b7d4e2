package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Overrides{EnvFile: "/nonexistent/.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.ProbeInterval != 5*time.Second {
		t.Errorf("ProbeInterval = %v, want 5s", cfg.ProbeInterval)
	}
	if cfg.LLMTimeout != 20*time.Second {
		t.Errorf("LLMTimeout = %v, want 20s", cfg.LLMTimeout)
	}
	if !cfg.GenerateDiagrams {
		t.Error("GenerateDiagrams should default to true")
	}
	if cfg.MaxSectionWords != 350 {
		t.Errorf("MaxSectionWords = %d, want 350", cfg.MaxSectionWords)
	}
	if cfg.PrivacyMode {
		t.Error("PrivacyMode should default to false")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("PRIVACY_MODE", "true")
	t.Setenv("LLM_MODEL", "mistral:7b")

	cfg, err := Load(Overrides{EnvFile: "/nonexistent/.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if !cfg.PrivacyMode {
		t.Error("PRIVACY_MODE=true not applied")
	}
	if cfg.LLMModel != "mistral:7b" {
		t.Errorf("LLMModel = %q, want mistral:7b", cfg.LLMModel)
	}
}

func TestLoadCLIOverridesWin(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "postgres://env/db")

	cfg, err := Load(Overrides{
		EnvFile:     "/nonexistent/.env",
		HTTPAddr:    ":7070",
		DatabaseURL: "postgres://flag/db",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("HTTPAddr = %q, want CLI value :7070", cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "postgres://flag/db" {
		t.Errorf("DatabaseURL = %q, want CLI value", cfg.DatabaseURL)
	}
}
