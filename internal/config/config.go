package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendMemcached = "memcached"
	BackendNone      = "none"
)

const DefaultWeatherAPIURL = "https://api.weatherbit.io/v2.0"

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	IconBaseURL       string

	RequestTimeout time.Duration
	FetchTimeout   time.Duration

	CacheTTL           time.Duration
	CacheSweepInterval time.Duration
	CacheWarmInterval  time.Duration

	StorageBackend        string
	MemoryQuotaBytes      int
	SQLitePath            string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled     bool
	CircuitBreakerMaxFailures int
	CircuitBreakerOpenTimeout time.Duration

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL         string `yaml:"url"`
		Timeout     string `yaml:"timeout"`
		IconBaseURL string `yaml:"icon_base_url"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout      string `yaml:"timeout"`
		FetchTimeout string `yaml:"fetch_timeout"`
	} `yaml:"request"`

	Cache struct {
		TTL           string `yaml:"ttl"`
		SweepInterval string `yaml:"sweep_interval"`
		WarmInterval  string `yaml:"warm_interval"`
	} `yaml:"cache"`

	Storage struct {
		Backend          string `yaml:"backend"`
		MemoryQuotaBytes int    `yaml:"memory_quota_bytes"`
		SQLite           struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"storage"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled     *bool  `yaml:"enabled"`
			MaxFailures int    `yaml:"max_failures"`
			OpenTimeout string `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFromDir(cwd)
}

// LoadFromDir reads an optional dir/.env into the environment (existing
// variables win), then config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. The API key comes from WEATHER_API_KEY or the secrets file.
func LoadFromDir(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = envOr("PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		secretsPath := filepath.Join(dir, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.WeatherAPIKey = sec.WeatherAPIKey
		}
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = envOr("WEATHER_API_URL", fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = DefaultWeatherAPIURL
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.IconBaseURL = strings.TrimSpace(fc.WeatherAPI.IconBaseURL)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)
	cfg.FetchTimeout = parseDuration(fc.Request.FetchTimeout, 15*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 2*time.Hour)
	cfg.CacheSweepInterval = parseDurationOrZero(fc.Cache.SweepInterval, 10*time.Minute)
	cfg.CacheWarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.StorageBackend = strings.ToLower(envOr("STORAGE_BACKEND", fc.Storage.Backend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = BackendMemory
	}
	cfg.MemoryQuotaBytes = fc.Storage.MemoryQuotaBytes
	if cfg.MemoryQuotaBytes <= 0 {
		cfg.MemoryQuotaBytes = 5 << 20
	}
	cfg.SQLitePath = envOr("SQLITE_PATH", fc.Storage.SQLite.Path)
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join("data", "dashboard.db")
	}
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Storage.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Storage.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Storage.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	if v := os.Getenv("CIRCUIT_BREAKER_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("CIRCUIT_BREAKER_ENABLED: %w", err)
		}
		cfg.CircuitBreakerEnabled = enabled
	}
	cfg.CircuitBreakerMaxFailures = cb.MaxFailures
	if cfg.CircuitBreakerMaxFailures <= 0 {
		cfg.CircuitBreakerMaxFailures = 5
	}
	cfg.CircuitBreakerOpenTimeout = parseDuration(cb.OpenTimeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is; for intervals they mean disabled.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks loaded values. RequestTimeout is raised above WeatherAPITimeout when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.RetryBaseDelay > cfg.RetryMaxDelay {
		return fmt.Errorf("reliability.retry_base_delay (%s) exceeds retry_max_delay (%s)", cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	switch cfg.StorageBackend {
	case BackendMemory, BackendSQLite, BackendMemcached, BackendNone:
		// valid
	default:
		return fmt.Errorf("storage.backend must be memory, sqlite, memcached or none, got %q", cfg.StorageBackend)
	}
	return nil
}
