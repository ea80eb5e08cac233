package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Driver     string `yaml:"driver"` // sqlite or postgres
		DSN        string `yaml:"dsn"`
		Collection string `yaml:"collection"`
		QueueSize  int    `yaml:"queue_size"`
	} `yaml:"storage"`
	Journal struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"journal"`
	Market struct {
		MIC string `yaml:"mic"`
	} `yaml:"market"`
	Socket struct {
		RetryDelaySeconds     int `yaml:"retry_delay_seconds"`
		SubscribeRetrySeconds int `yaml:"subscribe_retry_seconds"`
		SettleDelayMillis     int `yaml:"settle_delay_ms"`
	} `yaml:"socket"`
	Risk struct {
		IntervalSeconds   int     `yaml:"interval_seconds"`
		SecurePercent     float64 `yaml:"secure_percent"`
		WarningCutoffHour int     `yaml:"warning_cutoff_hour"`
		CoolDownMinutes   int     `yaml:"cooldown_minutes"`
		MaxLossOfDayInRs  float64 `yaml:"max_loss_of_day_in_rs"`
		MaxTradeCount     int     `yaml:"max_trade_count"`
	} `yaml:"risk"`
	Alerts struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"alerts"`
	Brokers struct {
		Shoonya ShoonyaConfig `yaml:"shoonya"`
		Kite    KiteConfig    `yaml:"kite"`
	} `yaml:"brokers"`
}

type ShoonyaConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RESTURL    string `yaml:"rest_url"`
	WSURL      string `yaml:"ws_url"`
	UserID     string `yaml:"user_id"`
	AccountID  string `yaml:"account_id"`
	VendorCode string `yaml:"vendor_code"`
	IMEI       string `yaml:"imei"`
	Exchange   string `yaml:"exchange"`
	Product    string `yaml:"product"`
	// TimeoutSeconds bounds each REST call.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Secrets, filled from the environment
	APIKey   string `yaml:"-"`
	Password string `yaml:"-"`
	TOTP     string `yaml:"-"`
}

func (c ShoonyaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type KiteConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exchange string `yaml:"exchange"`

	APIKey      string `yaml:"-"`
	APISecret   string `yaml:"-"`
	AccessToken string `yaml:"-"`
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1-65535, got %d", c.Server.Port)
	}
	if c.Storage.Driver != "sqlite" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("invalid storage.driver '%s': must be 'sqlite' or 'postgres'", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return errors.New("storage.dsn cannot be empty")
	}
	if c.Risk.SecurePercent <= 0 || c.Risk.SecurePercent > 100 {
		return fmt.Errorf("risk.secure_percent must be between 0-100, got %.2f", c.Risk.SecurePercent)
	}
	if c.Risk.WarningCutoffHour < 0 || c.Risk.WarningCutoffHour > 23 {
		return fmt.Errorf("risk.warning_cutoff_hour must be between 0-23, got %d", c.Risk.WarningCutoffHour)
	}
	if c.Brokers.Shoonya.Enabled && c.Brokers.Shoonya.UserID == "" {
		return errors.New("brokers.shoonya.user_id is required when shoonya is enabled")
	}
	return nil
}

// LoadConfig reads path, applies defaults and env overrides, then validates.
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
	c.overrideWithEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "data/tradedesk.db"
	}
	if c.Storage.Collection == "" {
		c.Storage.Collection = "state"
	}
	if c.Storage.QueueSize == 0 {
		c.Storage.QueueSize = 256
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "logs"
	}
	if c.Market.MIC == "" {
		c.Market.MIC = "xnse"
	}
	if c.Socket.RetryDelaySeconds == 0 {
		c.Socket.RetryDelaySeconds = 5
	}
	if c.Socket.SubscribeRetrySeconds == 0 {
		c.Socket.SubscribeRetrySeconds = 2
	}
	if c.Socket.SettleDelayMillis == 0 {
		c.Socket.SettleDelayMillis = 1500
	}
	if c.Risk.IntervalSeconds == 0 {
		c.Risk.IntervalSeconds = 3
	}
	if c.Risk.SecurePercent == 0 {
		c.Risk.SecurePercent = 50
	}
	if c.Risk.WarningCutoffHour == 0 {
		c.Risk.WarningCutoffHour = 11
	}
	if c.Risk.CoolDownMinutes == 0 {
		c.Risk.CoolDownMinutes = 15
	}
	if c.Alerts.IntervalSeconds == 0 {
		c.Alerts.IntervalSeconds = 1
	}
	if c.Brokers.Shoonya.TimeoutSeconds == 0 {
		c.Brokers.Shoonya.TimeoutSeconds = 15
	}
	if c.Brokers.Shoonya.RESTURL == "" {
		c.Brokers.Shoonya.RESTURL = "https://api.shoonya.com/NorenWClientTP"
	}
	if c.Brokers.Shoonya.WSURL == "" {
		c.Brokers.Shoonya.WSURL = "wss://api.shoonya.com/NorenWSTP/"
	}
	if c.Brokers.Shoonya.Exchange == "" {
		c.Brokers.Shoonya.Exchange = "NSE"
	}
	if c.Brokers.Shoonya.Product == "" {
		c.Brokers.Shoonya.Product = "I"
	}
	if c.Brokers.Kite.Exchange == "" {
		c.Brokers.Kite.Exchange = "NSE"
	}
}

func (c *Config) overrideWithEnv() {
	if v := os.Getenv("TRADEDESK_DB_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("TRADEDESK_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Journal.RetentionDays = n
		}
	}
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		c.Journal.Dir = v
	}
	c.Brokers.Shoonya.APIKey = os.Getenv("SHOONYA_API_KEY")
	c.Brokers.Shoonya.Password = os.Getenv("SHOONYA_PASSWORD")
	c.Brokers.Shoonya.TOTP = os.Getenv("SHOONYA_TOTP")
	c.Brokers.Kite.APIKey = os.Getenv("KITE_API_KEY")
	c.Brokers.Kite.APISecret = os.Getenv("KITE_API_SECRET")
	c.Brokers.Kite.AccessToken = os.Getenv("KITE_ACCESS_TOKEN")
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Socket.RetryDelaySeconds) * time.Second
}

func (c *Config) SubscribeRetry() time.Duration {
	return time.Duration(c.Socket.SubscribeRetrySeconds) * time.Second
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Socket.SettleDelayMillis) * time.Millisecond
}

func (c *Config) RiskInterval() time.Duration {
	return time.Duration(c.Risk.IntervalSeconds) * time.Second
}

func (c *Config) CoolDown() time.Duration {
	return time.Duration(c.Risk.CoolDownMinutes) * time.Minute
}

func (c *Config) AlertInterval() time.Duration {
	return time.Duration(c.Alerts.IntervalSeconds) * time.Second
}
