package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAgentConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AgentConfig
		wantErr bool
	}{
		{
			name:    "empty config",
			cfg:     AgentConfig{},
			wantErr: true,
		},
		{
			name: "missing agent credentials",
			cfg: AgentConfig{
				ServerURL: "https://example.com",
			},
			wantErr: true,
		},
		{
			name: "missing server_url",
			cfg: AgentConfig{
				AgentID:     "8d7f7c52-7a5b-4c4e-9f1a-111111111111",
				AgentSecret: "test-secret",
			},
			wantErr: true,
		},
		{
			name: "valid config",
			cfg: AgentConfig{
				ServerURL:   "https://example.com",
				AgentID:     "8d7f7c52-7a5b-4c4e-9f1a-111111111111",
				AgentSecret: "test-secret",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAgentConfig_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yml")

	cfg := &AgentConfig{
		ServerURL:   "https://clawtrace.example.com",
		AgentID:     "8d7f7c52-7a5b-4c4e-9f1a-111111111111",
		AgentSecret: "test-secret",
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("loaded config %+v does not match saved %+v", loaded, cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IsConfigured() {
		t.Error("expected unconfigured empty config")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected parse error for invalid YAML")
	}
}
