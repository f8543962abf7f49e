package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfigFile(t, `
port: "8080"
env: "test"
database:
  host: "db.example.com"
  user: "testuser"
  database: "testdb"
`)

	os.Unsetenv("PGHOST")
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("expected Port=9090 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	// YAML value used where no env override exists
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
}

func TestLoad_Defaults(t *testing.T) {
	writeConfigFile(t, `
env: "test"
`)

	for _, v := range []string{
		"STATEMENT_TIMEOUT_MS", "STATEMENT_TIMEOUT_MS_ASK", "DEFAULT_PREVIEW_LIMIT",
		"MAX_RETURNED_ROWS", "GENERATOR_PROVIDER", "GENERATOR_MAX_RETRIES",
		"SESSION_DEFAULT_LANGUAGE", "SESSION_INACTIVITY_TTL_HOURS",
		"DATASOURCE_SCHEMA_CACHE_TTL_MINUTES",
	} {
		os.Unsetenv(v)
	}

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Execution.StatementTimeoutMS != 8000 {
		t.Errorf("expected StatementTimeoutMS=8000, got %d", cfg.Execution.StatementTimeoutMS)
	}
	if cfg.Execution.AskStatementTimeoutMS != 30000 {
		t.Errorf("expected AskStatementTimeoutMS=30000, got %d", cfg.Execution.AskStatementTimeoutMS)
	}
	if cfg.Execution.PreviewLimit != 200 {
		t.Errorf("expected PreviewLimit=200, got %d", cfg.Execution.PreviewLimit)
	}
	if cfg.Execution.MaxReturnedRows != 5000 {
		t.Errorf("expected MaxReturnedRows=5000, got %d", cfg.Execution.MaxReturnedRows)
	}
	if cfg.Generator.Provider != "openai" {
		t.Errorf("expected Provider=openai, got %s", cfg.Generator.Provider)
	}
	if cfg.Generator.MaxRetries != 1 {
		t.Errorf("expected Generator.MaxRetries=1, got %d", cfg.Generator.MaxRetries)
	}
	if cfg.Session.DefaultLanguage != "en" {
		t.Errorf("expected DefaultLanguage=en, got %s", cfg.Session.DefaultLanguage)
	}
	if got := cfg.Execution.StatementTimeout(); got != 8*time.Second {
		t.Errorf("expected StatementTimeout=8s, got %v", got)
	}
	if got := cfg.Session.SessionTTL(); got != 720*time.Hour {
		t.Errorf("expected SessionTTL=720h, got %v", got)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	tmpDir := t.TempDir()

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	if _, err := Load("test-version"); err == nil {
		t.Error("expected error when config.yaml is missing")
	}
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	writeConfigFile(t, `
env: "test"
generator:
  provider: "markov-chain"
`)
	os.Unsetenv("GENERATOR_PROVIDER")

	if _, err := Load("test-version"); err == nil {
		t.Error("expected error for unknown generator provider")
	}
}

func TestLoad_RejectsUnsupportedLanguage(t *testing.T) {
	writeConfigFile(t, `
env: "test"
session:
  default_language: "fr"
`)
	os.Unsetenv("SESSION_DEFAULT_LANGUAGE")

	if _, err := Load("test-version"); err == nil {
		t.Error("expected error for unsupported default language")
	}
}

func TestParseJWKSEndpoints(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{
			name:  "empty",
			input: "",
			want:  map[string]string{},
		},
		{
			name:  "single pair",
			input: "https://auth.example.com=https://auth.example.com/.well-known/jwks.json",
			want: map[string]string{
				"https://auth.example.com": "https://auth.example.com/.well-known/jwks.json",
			},
		},
		{
			name:  "multiple pairs with spaces",
			input: "a=u1, b=u2",
			want:  map[string]string{"a": "u1", "b": "u2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseJWKSEndpoints(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d endpoints, got %d", len(tt.want), len(got))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("endpoint %q: expected %q, got %q", k, v, got[k])
				}
			}
		})
	}
}

func TestConnectionString(t *testing.T) {
	dbCfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "mesa",
		Password: "secret",
		Database: "mesa_engine",
		SSLMode:  "disable",
	}

	want := "host=localhost port=5432 user=mesa password=secret dbname=mesa_engine sslmode=disable"
	if got := dbCfg.ConnectionString(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
