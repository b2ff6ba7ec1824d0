package config

import (
	"testing"

	"ninochat/pkg/clients"
)

func TestLoadModelDefaults(t *testing.T) {
	t.Setenv("REASONING_MODEL", "")
	t.Setenv("FAST_MODEL", "")

	cfg := Load()
	if cfg.ReasoningModel != string(clients.ProModel) {
		t.Errorf("ReasoningModel = %q, want %q", cfg.ReasoningModel, clients.ProModel)
	}
	if cfg.FastModel != string(clients.FastModel) {
		t.Errorf("FastModel = %q, want %q", cfg.FastModel, clients.FastModel)
	}
}

func TestLoadModelOverrides(t *testing.T) {
	t.Setenv("REASONING_MODEL", "gemini-3-pro")
	t.Setenv("FAST_MODEL", "gemini-3-flash")

	cfg := Load()
	if cfg.ReasoningModel != "gemini-3-pro" {
		t.Errorf("ReasoningModel = %q, want override", cfg.ReasoningModel)
	}
	if cfg.FastModel != "gemini-3-flash" {
		t.Errorf("FastModel = %q, want override", cfg.FastModel)
	}
}
