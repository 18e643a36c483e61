package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oogiv/oogiv-web/internal/services"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantProvider string
		wantErr      string
	}{
		{
			name:         "Default consultant",
			input:        "port: \"9000\"\n",
			wantProvider: "oogiv",
		},
		{
			name:         "OOGIV consultant",
			input:        "consultant:\n  provider: oogiv\n",
			wantProvider: "oogiv",
		},
		{
			name:         "OpenAI consultant",
			input:        "consultant:\n  provider: openai\n  model: gpt-4o-mini\n  parameters:\n    temperature: 0.2\n",
			wantProvider: "openai",
		},
		{
			name:    "Missing provider",
			input:   "consultant:\n  model: gpt-4o-mini\n",
			wantErr: "consultant provider is required",
		},
		{
			name:    "Unknown provider",
			input:   "consultant:\n  provider: gemini\n",
			wantErr: "unknown consultant provider: gemini",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg config
			err := yaml.Unmarshal([]byte(tt.input), &cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			switch c := cfg.Consultant.(type) {
			case *oogivConsultantConfig:
				if tt.wantProvider != "oogiv" {
					t.Errorf("got oogiv consultant, want %s", tt.wantProvider)
				}
			case *openaiConfig:
				if tt.wantProvider != "openai" {
					t.Errorf("got openai consultant, want %s", tt.wantProvider)
				}
				if c.Model != "gpt-4o-mini" || c.Parameters.Temperature == nil || *c.Parameters.Temperature != 0.2 {
					t.Errorf("openai config = %+v", c)
				}
			default:
				t.Errorf("unexpected consultant %T", cfg.Consultant)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("OOGIV_SESSION_SECRET", "")
	t.Setenv("OOGIV_API_BASE_URL", "")
	t.Setenv("YOUTUBE_BASE_URL", "")
	t.Setenv("YOUTUBE_API_KEY", "")
	t.Setenv("REDIS_PASSWORD", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
port: "9000"
logFormat: json
sessionSecret: rahasia
typingDelay: 30ms
sessionIdleTimeout: 10m
oogiv:
  baseURL: https://api.example.com
youtube:
  lookupURL: https://youtube.example.com/dl
storage:
  driver: memory
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, gotDir, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if gotDir != dir {
		t.Errorf("dir = %s, want %s", gotDir, dir)
	}
	if cfg.Port != "9000" || cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Errorf("server settings = %+v", cfg)
	}
	if cfg.TypingDelay != 30*time.Millisecond || cfg.SessionIdleTimeout != 10*time.Minute {
		t.Errorf("durations = %v, %v", cfg.TypingDelay, cfg.SessionIdleTimeout)
	}
	if cfg.OOGIV.ConsultURL != defaultConsultURL || cfg.OOGIV.Timeout != defaultOOGIVWait {
		t.Errorf("oogiv = %+v", cfg.OOGIV)
	}
	if cfg.Storage.Driver != "memory" || cfg.Storage.Redis.TTL != defaultRedisTTL {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if _, ok := cfg.Consultant.(*oogivConsultantConfig); !ok {
		t.Errorf("consultant = %T, want the oogiv consultant", cfg.Consultant)
	}
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("OOGIV_SESSION_SECRET", "dari-env")
	t.Setenv("OOGIV_API_BASE_URL", "https://env.example.com")
	t.Setenv("YOUTUBE_BASE_URL", "https://yt.example.com")
	t.Setenv("YOUTUBE_API_KEY", "kunci")
	t.Setenv("REDIS_PASSWORD", "sandi")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: redis\n  redis:\n    addr: localhost:6379\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.SessionSecret != "dari-env" || cfg.OOGIV.BaseURL != "https://env.example.com" {
		t.Errorf("secrets = %q %q", cfg.SessionSecret, cfg.OOGIV.BaseURL)
	}
	if cfg.YouTube.LookupURL != "https://yt.example.com" || cfg.YouTube.APIKey != "kunci" {
		t.Errorf("youtube = %+v", cfg.YouTube)
	}
	if cfg.Storage.Redis.Password != "sandi" {
		t.Errorf("redis password = %q", cfg.Storage.Redis.Password)
	}
}

func TestLoadConfigEmptyFile(t *testing.T) {
	t.Setenv("OOGIV_SESSION_SECRET", "rahasia")
	t.Setenv("OOGIV_API_BASE_URL", "https://env.example.com")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Port != defaultPort || cfg.Storage.Driver != "bolt" || cfg.Consultant == nil {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("OOGIV_SESSION_SECRET", "")
	t.Setenv("OOGIV_API_BASE_URL", "")
	t.Setenv("REDIS_PASSWORD", "")

	tests := []struct {
		name    string
		cfg     config
		wantErr []string
	}{
		{
			name: "Valid",
			cfg:  config{SessionSecret: "s", OOGIV: oogivConfig{BaseURL: "https://api.example.com"}},
		},
		{
			name:    "Missing secrets",
			cfg:     config{},
			wantErr: []string{"sessionSecret is required", "oogiv.baseURL is required"},
		},
		{
			name: "Unknown settings",
			cfg: config{
				SessionSecret: "s",
				LogLevel:      "verbose",
				LogFormat:     "xml",
				OOGIV:         oogivConfig{BaseURL: "https://api.example.com"},
				Storage:       storageConfig{Driver: "sqlite"},
			},
			wantErr: []string{"unknown log level: verbose", "unknown log format: xml", "unknown storage driver: sqlite"},
		},
		{
			name: "Redis without address",
			cfg: config{
				SessionSecret: "s",
				OOGIV:         oogivConfig{BaseURL: "https://api.example.com"},
				Storage:       storageConfig{Driver: "redis"},
			},
			wantErr: []string{"storage.redis.addr is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.applyDefaults()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q should contain %q", err, want)
				}
			}
		})
	}
}

func TestOpenAIConsultantsRequireModel(t *testing.T) {
	if _, err := (openaiConfig{}).consultants(services.OOGIV{}, slog.Default()); err == nil {
		t.Error("expected error without a model")
	}
}

func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	logger := newLogger(config{LogLevel: "warn", LogFormat: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("log output = %s", out)
	}
}

func TestOpenStoragesMemory(t *testing.T) {
	storages, closeFn, err := openStorages(storageConfig{Driver: "memory"}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if storages.Session("a") == nil {
		t.Error("memory storages should hand out sessions")
	}
}

func TestOpenStoragesBolt(t *testing.T) {
	dir := t.TempDir()
	storages, closeFn, err := openStorages(storageConfig{Driver: "bolt"}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}
	_ = storages

	if _, err := os.Stat(filepath.Join(dir, "store.db")); err != nil {
		t.Errorf("store file should be created in the config dir: %v", err)
	}
}
