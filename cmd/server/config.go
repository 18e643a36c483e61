package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oogiv/oogiv-web/internal/handlers"
	"github.com/oogiv/oogiv-web/internal/services"
	"github.com/oogiv/oogiv-web/internal/session"
	"gopkg.in/yaml.v3"
)

type consultantConfig interface {
	consultants(api services.OOGIV, logger *slog.Logger) (handlers.ConsultantFactory, error)
}

// BaseConsultantConfig contains the common fields for all consultant configurations.
type BaseConsultantConfig struct {
	Provider string `yaml:"provider"`
}

type config struct {
	Port          string        `yaml:"port"`
	LogLevel      string        `yaml:"logLevel"`
	LogFormat     string        `yaml:"logFormat"`
	SessionSecret string        `yaml:"sessionSecret"`
	SecureCookies bool          `yaml:"secureCookies"`
	TypingDelay   time.Duration `yaml:"typingDelay"`
	// SessionIdleTimeout bounds how long an unused session is kept in memory.
	SessionIdleTimeout time.Duration `yaml:"sessionIdleTimeout"`

	OOGIV   oogivConfig   `yaml:"oogiv"`
	YouTube youtubeConfig `yaml:"youtube"`
	Storage storageConfig `yaml:"storage"`

	Consultant consultantConfig `yaml:"-"`
}

type oogivConfig struct {
	ConsultURL string        `yaml:"consultURL"`
	BaseURL    string        `yaml:"baseURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

type youtubeConfig struct {
	LookupURL string `yaml:"lookupURL"`
	APIKey    string `yaml:"apiKey"`
	APIHost   string `yaml:"apiHost"`
}

type storageConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Redis  redisConfig `yaml:"redis"`
}

type redisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type oogivConsultantConfig struct {
	BaseConsultantConfig `yaml:",inline"`
}

type openaiConfig struct {
	BaseConsultantConfig `yaml:",inline"`
	Model                string                 `yaml:"model"`
	APIKey               string                 `yaml:"apiKey"`
	BaseURL              string                 `yaml:"baseURL"`
	SystemPrompt         string                 `yaml:"systemPrompt"`
	Parameters           services.LLMParameters `yaml:"parameters"`
}

const (
	defaultPort       = "8080"
	defaultConsultURL = "https://ai.oogiv.com/api/konsulai"
	defaultOOGIVWait  = 5 * time.Minute
	defaultRedisTTL   = 30 * 24 * time.Hour

	defaultSystemPrompt = "Kamu adalah OOGIV, asisten AI yang membantu guru memahami materi pelajaran. " +
		"Jawab pertanyaan hanya berdasarkan materi yang diberikan, dalam bahasa Indonesia."
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	type plainConfig config
	var rawConfig struct {
		plainConfig `yaml:",inline"`
		Consultant  map[string]any `yaml:"consultant"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	*c = config(rawConfig.plainConfig)

	provider := "oogiv"
	if rawConfig.Consultant != nil {
		p, ok := rawConfig.Consultant["provider"].(string)
		if !ok {
			return fmt.Errorf("consultant provider is required")
		}
		provider = p
	}

	consultantRawYAML, err := yaml.Marshal(rawConfig.Consultant)
	if err != nil {
		return err
	}

	var consultant consultantConfig
	switch provider {
	case "oogiv":
		consultant = &oogivConsultantConfig{}
	case "openai":
		consultant = &openaiConfig{}
	default:
		return fmt.Errorf("unknown consultant provider: %s", provider)
	}

	if err := yaml.Unmarshal(consultantRawYAML, consultant); err != nil {
		return err
	}

	c.Consultant = consultant
	return nil
}

// loadConfig reads the config file at path, or at <UserConfigDir>/oogiv/config.yaml when path is
// empty. It returns the config and the directory holding the file.
func loadConfig(path string) (config, string, error) {
	if path == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return config{}, "", fmt.Errorf("error getting user config dir: %w", err)
		}
		dir := filepath.Join(cfgDir, "oogiv")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return config{}, "", fmt.Errorf("error creating config directory: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}

	cfgFile, err := os.Open(path)
	if err != nil {
		return config{}, "", fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := config{}
	// An empty file leaves every setting to the environment and the defaults.
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, "", fmt.Errorf("error decoding config file: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return config{}, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, filepath.Dir(path), nil
}

// applyDefaults fills unset fields from the environment and the built-in defaults, then checks
// that the result is usable.
func (c *config) applyDefaults() error {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.SessionSecret == "" {
		c.SessionSecret = os.Getenv("OOGIV_SESSION_SECRET")
	}
	if c.Consultant == nil {
		c.Consultant = &oogivConsultantConfig{BaseConsultantConfig: BaseConsultantConfig{Provider: "oogiv"}}
	}

	if c.OOGIV.ConsultURL == "" {
		c.OOGIV.ConsultURL = defaultConsultURL
	}
	if c.OOGIV.BaseURL == "" {
		c.OOGIV.BaseURL = os.Getenv("OOGIV_API_BASE_URL")
	}
	if c.OOGIV.Timeout == 0 {
		c.OOGIV.Timeout = defaultOOGIVWait
	}

	if c.YouTube.LookupURL == "" {
		c.YouTube.LookupURL = os.Getenv("YOUTUBE_BASE_URL")
	}
	if c.YouTube.APIKey == "" {
		c.YouTube.APIKey = os.Getenv("YOUTUBE_API_KEY")
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "bolt"
	}
	if c.Storage.Redis.Password == "" {
		c.Storage.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if c.Storage.Redis.TTL == 0 {
		c.Storage.Redis.TTL = defaultRedisTTL
	}

	return c.validate()
}

func (c *config) validate() error {
	var errs []error
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("sessionSecret is required"))
	}
	if c.OOGIV.BaseURL == "" {
		errs = append(errs, errors.New("oogiv.baseURL is required"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format: %s", c.LogFormat))
	}
	switch c.Storage.Driver {
	case "bolt", "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver: %s", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level: %s", s)
	}
	return level, nil
}

// consultants gives every browser session its own cookie jar, so the OOGIV service sees one
// client per session.
func (o oogivConsultantConfig) consultants(api services.OOGIV, logger *slog.Logger) (handlers.ConsultantFactory, error) {
	return func(sessionID string) session.Consultant {
		jar, err := cookiejar.New(nil)
		if err != nil {
			logger.Warn("Failed to create cookie jar", slog.String("session", sessionID), slog.String("err", err.Error()))
			return api
		}
		return api.WithJar(jar)
	}, nil
}

func (o openaiConfig) consultants(_ services.OOGIV, logger *slog.Logger) (handlers.ConsultantFactory, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	systemPrompt := o.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	client := services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, o.Parameters, logger)
	return func(string) session.Consultant { return client }, nil
}
