package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type FeedConfig struct {
	URL                string `yaml:"url"`
	QuoteSuffix        string `yaml:"quote_suffix"`
	HeartbeatSec       int    `yaml:"heartbeat_sec"`
	ReconnectBaseMs    int    `yaml:"reconnect_base_ms"`
	ReconnectMaxMs     int    `yaml:"reconnect_max_ms"`
	ReconnectAttempts  int    `yaml:"reconnect_attempts"`
	BufferSize         int    `yaml:"buffer_size"`
}

func (c FeedConfig) Heartbeat() time.Duration     { return time.Duration(c.HeartbeatSec) * time.Second }
func (c FeedConfig) ReconnectBase() time.Duration { return time.Duration(c.ReconnectBaseMs) * time.Millisecond }
func (c FeedConfig) ReconnectMax() time.Duration  { return time.Duration(c.ReconnectMaxMs) * time.Millisecond }

type DetectorConfig struct {
	Threshold      float64 `yaml:"threshold"`
	MinQuoteVolume float64 `yaml:"min_quote_volume"`
}

type HistoryConfig struct {
	WindowSize   int `yaml:"window_size"`
	RetentionMin int `yaml:"retention_min"`
}

func (c HistoryConfig) Retention() time.Duration { return time.Duration(c.RetentionMin) * time.Minute }

type QueueConfig struct {
	Path           string `yaml:"path"`
	LeaseSec       int    `yaml:"lease_sec"`
	MaxAttempts    int    `yaml:"max_attempts"`
	RetryBaseMs    int    `yaml:"retry_base_ms"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	SpikeWorkers   int    `yaml:"spike_workers"`
	NotifyWorkers  int    `yaml:"notify_workers"`
}

func (c QueueConfig) Lease() time.Duration        { return time.Duration(c.LeaseSec) * time.Second }
func (c QueueConfig) RetryBase() time.Duration    { return time.Duration(c.RetryBaseMs) * time.Millisecond }
func (c QueueConfig) PollInterval() time.Duration { return time.Duration(c.PollIntervalMs) * time.Millisecond }

type StorageConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	CacheTTLSec   int    `yaml:"cache_ttl_sec"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

func (c RedisConfig) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSec) * time.Second }

type BroadcastConfig struct {
	EliteDebounceMs int `yaml:"elite_debounce_ms"`
	ProCadenceMin   int `yaml:"pro_cadence_min"`
	FreeCadenceMin  int `yaml:"free_cadence_min"`
	ProRowLimit     int `yaml:"pro_row_limit"`
	FreeRowLimit    int `yaml:"free_row_limit"`
}

func (c BroadcastConfig) EliteDebounce() time.Duration {
	return time.Duration(c.EliteDebounceMs) * time.Millisecond
}
func (c BroadcastConfig) ProCadence() time.Duration {
	return time.Duration(c.ProCadenceMin) * time.Minute
}
func (c BroadcastConfig) FreeCadence() time.Duration {
	return time.Duration(c.FreeCadenceMin) * time.Minute
}

type WebhookChannelConfig struct {
	Enabled    bool `yaml:"enabled"`
	TimeoutSec int  `yaml:"timeout_sec"`
}

type EmailChannelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	From     string `yaml:"from"`
}

type SMSChannelConfig struct {
	Enabled    bool   `yaml:"enabled"`
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	BaseURL    string `yaml:"base_url"`
}

type ChannelsConfig struct {
	Webhook WebhookChannelConfig `yaml:"webhook"`
	Email   EmailChannelConfig   `yaml:"email"`
	SMS     SMSChannelConfig     `yaml:"sms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type Config struct {
	Feed      FeedConfig      `yaml:"feed"`
	Detector  DetectorConfig  `yaml:"detector"`
	History   HistoryConfig   `yaml:"history"`
	Queue     QueueConfig     `yaml:"queue"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the configuration the engine runs with when a field is
// absent from the config file.
func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:               "wss://fstream.binance.com/stream?streams=!ticker@arr/!markPrice@arr",
			QuoteSuffix:       "USDT",
			HeartbeatSec:      30,
			ReconnectBaseMs:   3000,
			ReconnectMaxMs:    60000,
			ReconnectAttempts: 10,
			BufferSize:        256,
		},
		Detector: DetectorConfig{
			Threshold:      3.0,
			MinQuoteVolume: 1_000_000,
		},
		History: HistoryConfig{
			WindowSize:   20,
			RetentionMin: 60,
		},
		Queue: QueueConfig{
			Path:           "queue.db",
			LeaseSec:       60,
			MaxAttempts:    5,
			RetryBaseMs:    5000,
			PollIntervalMs: 250,
			SpikeWorkers:   1,
			NotifyWorkers:  5,
		},
		Storage: StorageConfig{Path: "marketpulse.db"},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			CacheTTLSec:   300,
			ChannelPrefix: "market",
		},
		Broadcast: BroadcastConfig{
			EliteDebounceMs: 200,
			ProCadenceMin:   5,
			FreeCadenceMin:  15,
			ProRowLimit:     500,
			FreeRowLimit:    50,
		},
		Channels: ChannelsConfig{
			Webhook: WebhookChannelConfig{Enabled: true, TimeoutSec: 10},
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Port: 8080},
	}
}

// Load reads a yaml config file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Detector.Threshold <= 1 {
		return fmt.Errorf("detector.threshold must be > 1, got %v", c.Detector.Threshold)
	}
	if c.History.WindowSize < 2 {
		return fmt.Errorf("history.window_size must be >= 2, got %d", c.History.WindowSize)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be >= 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.SpikeWorkers < 1 || c.Queue.NotifyWorkers < 1 {
		return fmt.Errorf("queue worker counts must be >= 1")
	}
	return nil
}
