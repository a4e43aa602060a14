package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile    = "config.yaml"
	DefaultEnvFile       = ".env"
	DefaultListenAddr    = ":5001"
	DefaultStoragePath   = ".surfwatch/surfwatch.db"
	DefaultRetainDays    = 90
	DefaultCacheTTL      = 10 * time.Minute
	DefaultRefresh       = 5 * time.Minute
	DefaultSweep         = 10 * time.Minute
	DefaultSyncInterval  = 30 * time.Minute
	DefaultForumURL      = "https://forum.cursor.com"
	DefaultForumPages    = 2
	DefaultForumPerPage  = 30
	DefaultClassifyMode  = "heuristic"
	DefaultClassifyLimit = 100
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
)

// DefaultCommunities are searched when the config names none.
var DefaultCommunities = []string{
	"programming", "Python", "javascript", "reactjs", "node", "codeium", "vscode",
	"webdev", "coding", "rust", "golang", "java", "AIdev", "AIProgramming", "MachineLearning",
}

// DefaultTerms are the product mentions searched for when the config names none.
var DefaultTerms = []string{
	"windsurf editor", "windsurf IDE", "codeium", "codeium extension", "codeium plugin", "codeium AI",
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Reddit   RedditConfig   `yaml:"reddit"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Cache    CacheConfig    `yaml:"cache"`
	Twitter  TwitterConfig  `yaml:"twitter"`
	Forum    ForumConfig    `yaml:"forum"`
	Storage  StorageConfig  `yaml:"storage"`
	Classify ClassifyConfig `yaml:"classify"`
	Privacy  PrivacyConfig  `yaml:"privacy"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RequestsPerMin int      `yaml:"requests_per_minute"` // per client IP, 0 disables
}

type RedditConfig struct {
	Communities       []string `yaml:"communities"`
	Terms             []string `yaml:"terms"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	MaxCalls          int      `yaml:"max_calls"`
	UserAgent         string   `yaml:"user_agent"`
	ClientIDEnv       string   `yaml:"client_id_env"`
	ClientSecretEnv   string   `yaml:"client_secret_env"`
	UsernameEnv       string   `yaml:"username_env"`
	PasswordEnv       string   `yaml:"password_env"`

	// Resolved from env vars at load time.
	ClientID     string `yaml:"-"`
	ClientSecret string `yaml:"-"`
	Username     string `yaml:"-"`
	Password     string `yaml:"-"`
}

type ScraperConfig struct {
	BaseURL           string   `yaml:"base_url"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	MaxAttempts       int      `yaml:"max_attempts"`
	Timeout           Duration `yaml:"timeout"`
	UserAgents        []string `yaml:"user_agents"`
}

type CacheConfig struct {
	TTL             Duration `yaml:"ttl"`
	RefreshInterval Duration `yaml:"refresh_interval"`
	SweepInterval   Duration `yaml:"sweep_interval"`
}

type TwitterConfig struct {
	Query             string   `yaml:"query"`
	MaxResults        int      `yaml:"max_results"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	SyncInterval      Duration `yaml:"sync_interval"`
	BearerTokenEnv    string   `yaml:"bearer_token_env"`

	// Resolved from env var at load time.
	BearerToken string `yaml:"-"`
}

type ForumConfig struct {
	BaseURL      string   `yaml:"base_url"`
	Pages        int      `yaml:"pages"`
	PerPage      int      `yaml:"per_page"`
	SyncInterval Duration `yaml:"sync_interval"`
	RatePerSec   float64  `yaml:"requests_per_second"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type ClassifyConfig struct {
	Mode         string `yaml:"mode"`
	Model        string `yaml:"model"`
	SummaryModel string `yaml:"summary_model"`
	Endpoint     string `yaml:"endpoint"`
	Limit        int    `yaml:"limit"`
	APIKeyEnv    string `yaml:"api_key_env"`

	// Resolved from env var at load time.
	APIKey string `yaml:"-"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Builtin  bool     `yaml:"builtin"` // emails and common API key formats
	Patterns []string `yaml:"patterns"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config.yaml from dir, loads an optional .env next to it,
// applies defaults, resolves env vars, and validates. Variables already set
// in the environment win over .env entries.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	if err := loadEnvFile(filepath.Join(dir, DefaultEnvFile)); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListenAddr
	}
	if len(cfg.Reddit.Communities) == 0 {
		cfg.Reddit.Communities = append([]string(nil), DefaultCommunities...)
	}
	if len(cfg.Reddit.Terms) == 0 {
		cfg.Reddit.Terms = append([]string(nil), DefaultTerms...)
	}
	if cfg.Reddit.ClientIDEnv == "" {
		cfg.Reddit.ClientIDEnv = "REDDIT_CLIENT_ID"
	}
	if cfg.Reddit.ClientSecretEnv == "" {
		cfg.Reddit.ClientSecretEnv = "REDDIT_CLIENT_SECRET"
	}
	if cfg.Reddit.UsernameEnv == "" {
		cfg.Reddit.UsernameEnv = "REDDIT_USERNAME"
	}
	if cfg.Reddit.PasswordEnv == "" {
		cfg.Reddit.PasswordEnv = "REDDIT_PASSWORD"
	}
	if cfg.Cache.TTL.Duration == 0 {
		cfg.Cache.TTL.Duration = DefaultCacheTTL
	}
	if cfg.Cache.RefreshInterval.Duration == 0 {
		cfg.Cache.RefreshInterval.Duration = DefaultRefresh
	}
	if cfg.Cache.SweepInterval.Duration == 0 {
		cfg.Cache.SweepInterval.Duration = DefaultSweep
	}
	if cfg.Twitter.BearerTokenEnv == "" {
		cfg.Twitter.BearerTokenEnv = "TWITTER_BEARER_TOKEN"
	}
	if cfg.Twitter.MaxResults == 0 {
		cfg.Twitter.MaxResults = 100
	}
	if cfg.Twitter.SyncInterval.Duration == 0 {
		cfg.Twitter.SyncInterval.Duration = DefaultSyncInterval
	}
	if cfg.Forum.BaseURL == "" {
		cfg.Forum.BaseURL = DefaultForumURL
	}
	if cfg.Forum.Pages == 0 {
		cfg.Forum.Pages = DefaultForumPages
	}
	if cfg.Forum.PerPage == 0 {
		cfg.Forum.PerPage = DefaultForumPerPage
	}
	if cfg.Forum.SyncInterval.Duration == 0 {
		cfg.Forum.SyncInterval.Duration = DefaultSyncInterval
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Classify.Mode == "" {
		cfg.Classify.Mode = DefaultClassifyMode
	}
	if cfg.Classify.Limit == 0 {
		cfg.Classify.Limit = DefaultClassifyLimit
	}
	if cfg.Classify.APIKeyEnv == "" {
		cfg.Classify.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) {
	cfg.Reddit.ClientID = os.Getenv(cfg.Reddit.ClientIDEnv)
	cfg.Reddit.ClientSecret = os.Getenv(cfg.Reddit.ClientSecretEnv)
	cfg.Reddit.Username = os.Getenv(cfg.Reddit.UsernameEnv)
	cfg.Reddit.Password = os.Getenv(cfg.Reddit.PasswordEnv)
	cfg.Twitter.BearerToken = os.Getenv(cfg.Twitter.BearerTokenEnv)
	cfg.Classify.APIKey = os.Getenv(cfg.Classify.APIKeyEnv)
}

func validate(cfg *Config) error {
	if cfg.Cache.TTL.Duration < 0 {
		return errors.New("cache.ttl: must not be negative")
	}
	if cfg.Reddit.MaxCalls < 0 {
		return errors.New("reddit.max_calls: must not be negative")
	}
	for _, c := range cfg.Reddit.Communities {
		if strings.TrimSpace(c) == "" || strings.ContainsAny(c, ":/ ") {
			return fmt.Errorf("reddit.communities: invalid community %q", c)
		}
	}

	for name, raw := range map[string]string{"forum.base_url": cfg.Forum.BaseURL, "scraper.base_url": cfg.Scraper.BaseURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s: invalid url %q", name, raw)
		}
	}

	switch cfg.Classify.Mode {
	case "heuristic", "llm":
		// valid
	default:
		return fmt.Errorf("classify.mode: unknown mode %q (want heuristic or llm)", cfg.Classify.Mode)
	}

	switch cfg.Log.Format {
	case "console", "json":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want console or json)", cfg.Log.Format)
	}

	return nil
}
