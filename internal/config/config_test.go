package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Vector.Backend != "sqlvec" {
		t.Errorf("Vector.Backend = %q, want sqlvec", cfg.Vector.Backend)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gantry.yaml")
	content := `
server:
  port: 9000
catalog:
  path: /etc/gantry/models.yaml
  default_chat_model: hosted-chat
vector:
  backend: matching
  index_service_url: http://localhost:7700
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Catalog.DefaultChatModel != "hosted-chat" {
		t.Errorf("DefaultChatModel = %q", cfg.Catalog.DefaultChatModel)
	}
	if cfg.Vector.Backend != "matching" {
		t.Errorf("Vector.Backend = %q, want matching", cfg.Vector.Backend)
	}
	// File values merge over defaults; untouched keys keep their default.
	if cfg.Server.MCPPort != 4601 {
		t.Errorf("Server.MCPPort = %d, want 4601", cfg.Server.MCPPort)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gantry.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("GANTRY_SERVER_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100 (env override)", cfg.Server.Port)
	}
}

func TestLoad_BadEnvIntKeepsDefault(t *testing.T) {
	t.Setenv("GANTRY_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want default 4600", cfg.Server.Port)
	}
}

func TestLoad_MatchingRequiresIndexService(t *testing.T) {
	t.Setenv("GANTRY_VECTOR_BACKEND", "matching")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for matching backend without index service URL")
	}
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv("GANTRY_SECRET_HOSTED_API_KEY", "  sk-test  ")

	var s Secrets = EnvSecrets{}
	got, err := s.Get("hosted-api-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-test" {
		t.Errorf("secret = %q, want trimmed %q", got, "sk-test")
	}

	if _, err := s.Get("missing-key"); err != ErrSecretNotFound {
		t.Errorf("err = %v, want ErrSecretNotFound", err)
	}
}
