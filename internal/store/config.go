package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"broker-governor/internal/types"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode   string `yaml:"mode"`
	Limits struct {
		Global struct {
			Limit  int           `yaml:"limit"`
			Window time.Duration `yaml:"window"`
		} `yaml:"global"`
		CategoryWindow time.Duration  `yaml:"category_window"`
		Categories     map[string]int `yaml:"categories"`
	} `yaml:"limits"`
	Cache struct {
		TTL           time.Duration `yaml:"ttl"`
		Backoff       time.Duration `yaml:"backoff"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"cache"`
	Subscriptions struct {
		RestartDelay     time.Duration `yaml:"restart_delay"`
		ResubscribeEvery time.Duration `yaml:"resubscribe_every"`
		Accounts         []string      `yaml:"accounts"`
		Instruments      []string      `yaml:"instruments"`
		MaxLotPrice      float64       `yaml:"max_lot_price"`
	} `yaml:"subscriptions"`
	Instruments struct {
		TTL             time.Duration `yaml:"ttl"`
		RefreshInterval time.Duration `yaml:"refresh_interval"`
		Currency        string        `yaml:"currency"`
		Exchange        string        `yaml:"exchange"`
	} `yaml:"instruments"`
	Trades struct {
		Window int `yaml:"window"`
	} `yaml:"trades"`
	Notify struct {
		Telegram struct {
			Enabled     bool    `yaml:"enabled"`
			ChatID      string  `yaml:"chat_id"`
			TokenEnv    string  `yaml:"token_env"`
			RatePerSec  float64 `yaml:"rate_per_sec"`
			Burst       int     `yaml:"burst"`
			BaseURL     string  `yaml:"base_url"`
			TimeoutSecs int     `yaml:"timeout_secs"`
		} `yaml:"telegram"`
		Journal struct {
			Enabled bool   `yaml:"enabled"`
			Dir     string `yaml:"dir"`
		} `yaml:"journal"`
		Positions struct {
			Enabled  bool          `yaml:"enabled"`
			Interval time.Duration `yaml:"interval"`
		} `yaml:"positions"`
	} `yaml:"notify"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
}

// Default returns a config with every default applied, as if loaded from an
// empty file.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

var defaultCategoryLimits = map[types.Category]int{
	types.CategoryInstruments: 200,
	types.CategoryAccounts:    100,
	types.CategoryOperations:  200,
	types.CategoryOrders:      100,
	types.CategoryMarketData:  600,
	types.CategoryStopOrders:  50,
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "LIVE"
	}
	if c.Limits.Global.Limit == 0 {
		c.Limits.Global.Limit = 50
	}
	if c.Limits.Global.Window == 0 {
		c.Limits.Global.Window = time.Second
	}
	if c.Limits.CategoryWindow == 0 {
		c.Limits.CategoryWindow = time.Minute
	}
	if c.Limits.Categories == nil {
		c.Limits.Categories = make(map[string]int, types.CategoryCount)
	}
	for cat, limit := range defaultCategoryLimits {
		if _, ok := c.Limits.Categories[cat.String()]; !ok {
			c.Limits.Categories[cat.String()] = limit
		}
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Second
	}
	if c.Cache.Backoff == 0 {
		c.Cache.Backoff = time.Minute
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = 2 * time.Second
	}

	if c.Subscriptions.RestartDelay == 0 {
		c.Subscriptions.RestartDelay = 500 * time.Millisecond
	}
	if c.Subscriptions.ResubscribeEvery == 0 {
		c.Subscriptions.ResubscribeEvery = 150 * time.Millisecond
	}

	if c.Instruments.TTL == 0 {
		c.Instruments.TTL = 10 * time.Minute
	}
	if c.Instruments.RefreshInterval == 0 {
		c.Instruments.RefreshInterval = 24 * time.Hour
	}
	if c.Instruments.Currency == "" {
		c.Instruments.Currency = "INR"
	}
	if c.Instruments.Exchange == "" {
		c.Instruments.Exchange = "NSE"
	}

	if c.Trades.Window == 0 {
		c.Trades.Window = 500
	}

	if c.Notify.Telegram.TokenEnv == "" {
		c.Notify.Telegram.TokenEnv = "TELEGRAM_BOT_TOKEN"
	}
	if c.Notify.Telegram.RatePerSec == 0 {
		c.Notify.Telegram.RatePerSec = 1
	}
	if c.Notify.Telegram.Burst == 0 {
		c.Notify.Telegram.Burst = 3
	}
	if c.Notify.Telegram.BaseURL == "" {
		c.Notify.Telegram.BaseURL = "https://api.telegram.org"
	}
	if c.Notify.Telegram.TimeoutSecs == 0 {
		c.Notify.Telegram.TimeoutSecs = 10
	}
	if c.Notify.Journal.Dir == "" {
		c.Notify.Journal.Dir = "journal"
	}
	if c.Notify.Positions.Interval == 0 {
		c.Notify.Positions.Interval = time.Hour
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Limits.Global.Limit <= 0 {
		return fmt.Errorf("limits.global.limit must be positive, got %d", c.Limits.Global.Limit)
	}
	for name, limit := range c.Limits.Categories {
		if _, err := types.ParseCategory(name); err != nil {
			return fmt.Errorf("limits.categories: %w", err)
		}
		if limit <= 0 {
			return fmt.Errorf("limits.categories.%s must be positive, got %d", name, limit)
		}
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"limits.global.window", c.Limits.Global.Window},
		{"limits.category_window", c.Limits.CategoryWindow},
		{"cache.ttl", c.Cache.TTL},
		{"cache.backoff", c.Cache.Backoff},
		{"cache.sweep_interval", c.Cache.SweepInterval},
		{"subscriptions.restart_delay", c.Subscriptions.RestartDelay},
		{"subscriptions.resubscribe_every", c.Subscriptions.ResubscribeEvery},
		{"instruments.ttl", c.Instruments.TTL},
		{"instruments.refresh_interval", c.Instruments.RefreshInterval},
		{"notify.positions.interval", c.Notify.Positions.Interval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.Trades.Window <= 0 {
		return fmt.Errorf("trades.window must be positive, got %d", c.Trades.Window)
	}
	if c.Subscriptions.MaxLotPrice < 0 {
		return fmt.Errorf("subscriptions.max_lot_price cannot be negative, got %.2f", c.Subscriptions.MaxLotPrice)
	}
	if c.Notify.Telegram.Enabled && c.Notify.Telegram.ChatID == "" {
		return errors.New("notify.telegram.chat_id is required when telegram is enabled")
	}
	return nil
}

// CategoryLimit returns the configured window limit for cat.
func (c *Config) CategoryLimit(cat types.Category) int {
	if limit, ok := c.Limits.Categories[cat.String()]; ok {
		return limit
	}
	return defaultCategoryLimits[cat]
}

func (c *Config) MaxLotPrice() decimal.Decimal {
	return decimal.NewFromFloat(c.Subscriptions.MaxLotPrice)
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
