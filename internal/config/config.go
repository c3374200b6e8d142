package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeTestnet Mode = "testnet"
	ModeLive    Mode = "live"
)

const (
	EnvAPIKey    = "API_KEY"
	EnvAPISecret = "API_SECRET"
)

// ErrMissingCredentials is returned when neither the YAML nor the environment carry API keys.
var ErrMissingCredentials = errors.New("API keys missing")

type Config struct {
	Mode           Mode                 `yaml:"mode"`
	Exchange       ExchangeConfig       `yaml:"exchange"`
	Trading        TradingConfig        `yaml:"trading"`
	Log            LogConfig            `yaml:"log"`
	State          StateConfig          `yaml:"state"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

type ExchangeConfig struct {
	APIKey            string `yaml:"api_key"`
	APISecret         string `yaml:"api_secret"`
	RestBaseURL       string `yaml:"rest_base_url"`
	WSBaseURL         string `yaml:"ws_base_url"`
	RecvWindowMs      int64  `yaml:"recv_window_ms"`
	HTTPTimeoutSec    int64  `yaml:"http_timeout_sec"`
	ClientOrderPrefix string `yaml:"client_order_prefix"`
}

type TradingConfig struct {
	DefaultSymbol string  `yaml:"default_symbol"`
	MaxNotional   Decimal `yaml:"max_notional"`
	WatchSec      int64   `yaml:"watch_sec"`
}

type LogConfig struct {
	Level        string `yaml:"level"`
	ConsoleLevel string `yaml:"console_level"`
	File         string `yaml:"file"`
	MaxSizeMB    int    `yaml:"max_size_mb"`
	MaxBackups   int    `yaml:"max_backups"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type CircuitBreakerConfig struct {
	Enabled          bool  `yaml:"enabled"`
	MaxPlaceFailures int   `yaml:"max_place_failures"`
	CooldownSec      int64 `yaml:"cooldown_sec"`
}

type ObservabilityConfig struct {
	Telegram    TelegramConfig `yaml:"telegram"`
	MetricsAddr string         `yaml:"metrics_addr"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

// Load reads the YAML config at path. A missing file is not an error: the
// tool then runs on defaults plus API_KEY/API_SECRET from the environment.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = decode(data)
		if err != nil {
			return Config{}, err
		}
	case os.IsNotExist(err) || path == "":
	default:
		return Config{}, err
	}
	cfg.applyEnv()
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func decode(data []byte) (Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		c.Exchange.APISecret = v
	}
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Exchange.RestBaseURL = strings.TrimRight(strings.TrimSpace(c.Exchange.RestBaseURL), "/")
	c.Exchange.WSBaseURL = strings.TrimRight(strings.TrimSpace(c.Exchange.WSBaseURL), "/")
	c.Exchange.ClientOrderPrefix = strings.ToLower(strings.TrimSpace(c.Exchange.ClientOrderPrefix))
	c.Trading.DefaultSymbol = strings.ToUpper(strings.TrimSpace(c.Trading.DefaultSymbol))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.ConsoleLevel = strings.ToLower(strings.TrimSpace(c.Log.ConsoleLevel))
	c.Log.File = strings.TrimSpace(c.Log.File)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Observability.MetricsAddr = strings.TrimSpace(c.Observability.MetricsAddr)
	c.Observability.Telegram.BotToken = strings.TrimSpace(c.Observability.Telegram.BotToken)
	c.Observability.Telegram.ChatID = strings.TrimSpace(c.Observability.Telegram.ChatID)
	c.Observability.Telegram.APIBaseURL = strings.TrimSpace(c.Observability.Telegram.APIBaseURL)
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeTestnet
	}
	if c.Exchange.RestBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.RestBaseURL = "https://testnet.binancefuture.com"
		case ModeLive:
			c.Exchange.RestBaseURL = "https://fapi.binance.com"
		}
	}
	if c.Exchange.WSBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.WSBaseURL = "wss://stream.binancefuture.com/ws"
		case ModeLive:
			c.Exchange.WSBaseURL = "wss://fstream.binance.com/ws"
		}
	}
	if c.Exchange.RecvWindowMs == 0 {
		c.Exchange.RecvWindowMs = 5000
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.Exchange.ClientOrderPrefix == "" {
		c.Exchange.ClientOrderPrefix = "fbot"
	}
	if c.Trading.DefaultSymbol == "" {
		c.Trading.DefaultSymbol = "BTCUSDT"
	}
	if c.Trading.WatchSec == 0 {
		c.Trading.WatchSec = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "debug"
	}
	if c.Log.ConsoleLevel == "" {
		c.Log.ConsoleLevel = "info"
	}
	if c.Log.File == "" {
		c.Log.File = "bot.log"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 2
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.CircuitBreaker.MaxPlaceFailures == 0 {
		c.CircuitBreaker.MaxPlaceFailures = 5
	}
	if c.CircuitBreaker.CooldownSec == 0 {
		c.CircuitBreaker.CooldownSec = 60
	}
	if c.Observability.Telegram.APIBaseURL == "" {
		c.Observability.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Observability.Telegram.TimeoutSec == 0 {
		c.Observability.Telegram.TimeoutSec = 10
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeTestnet, ModeLive:
	default:
		return fmt.Errorf("mode must be testnet or live")
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return ErrMissingCredentials
	}
	if err := validateURL(c.Exchange.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange rest_base_url %v", err)
	}
	if err := validateURL(c.Exchange.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange ws_base_url %v", err)
	}
	if c.Exchange.RecvWindowMs < 1 || c.Exchange.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange recv_window_ms must be between 1 and 60000")
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange http_timeout_sec must be between 1 and 120")
	}
	if !isValidSymbol(c.Trading.DefaultSymbol) {
		return fmt.Errorf("trading default_symbol must match [A-Z0-9], length 5..20")
	}
	if c.Trading.MaxNotional.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("trading max_notional must be >= 0")
	}
	if c.Trading.WatchSec < 1 || c.Trading.WatchSec > 600 {
		return fmt.Errorf("trading watch_sec must be between 1 and 600")
	}
	if !isValidLevel(c.Log.Level) {
		return fmt.Errorf("log level must be debug, info, warn or error")
	}
	if !isValidLevel(c.Log.ConsoleLevel) {
		return fmt.Errorf("log console_level must be debug, info, warn or error")
	}
	if c.Log.MaxSizeMB < 1 || c.Log.MaxSizeMB > 1024 {
		return fmt.Errorf("log max_size_mb must be between 1 and 1024")
	}
	if c.Log.MaxBackups < 0 || c.Log.MaxBackups > 100 {
		return fmt.Errorf("log max_backups must be between 0 and 100")
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxPlaceFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_place_failures must be >= 1")
		}
		if c.CircuitBreaker.CooldownSec < 1 || c.CircuitBreaker.CooldownSec > 3600 {
			return fmt.Errorf("circuit_breaker.cooldown_sec must be between 1 and 3600")
		}
	}
	if c.Observability.Telegram.Enabled {
		if c.Observability.Telegram.BotToken == "" {
			return fmt.Errorf("observability.telegram.bot_token is required when telegram enabled")
		}
		if c.Observability.Telegram.ChatID == "" {
			return fmt.Errorf("observability.telegram.chat_id is required when telegram enabled")
		}
		if c.Observability.Telegram.TimeoutSec < 1 || c.Observability.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("observability.telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Observability.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("observability.telegram.api_base_url %v", err)
		}
	}
	return nil
}

func isValidLevel(v string) bool {
	switch v {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidSymbol(v string) bool {
	if len(v) < 5 || len(v) > 20 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
