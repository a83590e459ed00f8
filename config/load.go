package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Session  SessionConfig  `yaml:"session"`
	Stream   StreamConfig   `yaml:"stream"`
	Log      LogConfig      `yaml:"log"`
	Reload   ReloadConfig   `yaml:"reload"`
	Alert    AlertConfig    `yaml:"alert"`
}

// ServerConfig 监听地址；MetricsAddr 为空则不启动指标服务。
type ServerConfig struct {
	HTTPAddr    string `yaml:"httpAddr"`
	StreamAddr  string `yaml:"streamAddr"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// UpstreamConfig describes the brokerage API the gateway forwards to.
type UpstreamConfig struct {
	BaseURL          string  `yaml:"baseURL"`
	AuthPath         string  `yaml:"authPath"`
	HoldingsPath     string  `yaml:"holdingsPath"`
	BuyOrderPath     string  `yaml:"buyOrderPath"`
	SellOrderPath    string  `yaml:"sellOrderPath"`
	NewsPath         string  `yaml:"newsPath"`
	HistoricalPath   string  `yaml:"historicalPath"`
	HistoricalSymbol string  `yaml:"historicalSymbol"`
	Username         string  `yaml:"username"`
	Password         string  `yaml:"password"`
	TimeoutMs        int     `yaml:"timeoutMs"`
	RateLimit        float64 `yaml:"rateLimit"` // 每秒令牌数
	RateBurst        int     `yaml:"rateBurst"`
}

// SessionConfig controls optional credential refresh.
type SessionConfig struct {
	Refresh            bool `yaml:"refresh"`
	RefreshMarginSec   int  `yaml:"refreshMarginSec"`
	RefreshIntervalSec int  `yaml:"refreshIntervalSec"` // used when the upstream reports no expiry
	RetryBaseMs        int  `yaml:"retryBaseMs"`
	RetryMaxMs         int  `yaml:"retryMaxMs"`
}

// StreamConfig 价格推送参数。
type StreamConfig struct {
	Symbol         string `yaml:"symbol"`
	IntervalMs     int    `yaml:"intervalMs"`
	WriteTimeoutMs int    `yaml:"writeTimeoutMs"`
}

// LogConfig mirrors logger.Config so the YAML file can configure it directly.
type LogConfig struct {
	Level      string   `yaml:"level"`
	Outputs    []string `yaml:"outputs"`
	OutputFile string   `yaml:"outputFile"`
	ErrorFile  string   `yaml:"errorFile"`
	Format     string   `yaml:"format"`
	MaxSize    int      `yaml:"maxSize"`
	MaxBackups int      `yaml:"maxBackups"`
	MaxAge     int      `yaml:"maxAge"`
}

// ReloadConfig 热更新开关。
type ReloadConfig struct {
	Enabled    bool `yaml:"enabled"`
	CooldownMs int  `yaml:"cooldownMs"`
}

// AlertConfig 告警限流，同一告警在 ThrottleSec 内只发送一次。
type AlertConfig struct {
	ThrottleSec int `yaml:"throttleSec"`
}

// Default returns the configuration used when a key is absent from the YAML file.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Server: ServerConfig{
			HTTPAddr:    ":3000",
			StreamAddr:  ":8080",
			MetricsAddr: ":9100",
		},
		Upstream: UpstreamConfig{
			BaseURL:          "https://api.kotaksecurities.com",
			AuthPath:         "/oauth/token",
			HoldingsPath:     "/portfolio/v1/holdings",
			BuyOrderPath:     "/orders/v1/buy",
			SellOrderPath:    "/orders/v1/sell",
			NewsPath:         "/news/v1/market",
			HistoricalPath:   "/historical-prices/v1",
			HistoricalSymbol: "XYZ",
			TimeoutMs:        10000,
			RateLimit:        5,
			RateBurst:        10,
		},
		Session: SessionConfig{
			RefreshMarginSec: 60,
			RetryBaseMs:      500,
			RetryMaxMs:       30000,
		},
		Stream: StreamConfig{
			Symbol:         "XYZ",
			IntervalMs:     3000,
			WriteTimeoutMs: 5000,
		},
		Log: LogConfig{
			Level:      "info",
			Outputs:    []string{"stdout"},
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Reload: ReloadConfig{
			Enabled:    true,
			CooldownMs: 1000,
		},
		Alert: AlertConfig{
			ThrottleSec: 300,
		},
	}
}

// Load reads YAML config from path on top of Default and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, ValidateCredentials(cfg)
}

// LoadEnvFile 读取 .env 文件；文件不存在不算错误。
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *AppConfig) {
	// 兼容旧部署 .env 中的 username/password
	if v := firstEnv("GW_UPSTREAM_USERNAME", "username"); v != "" {
		cfg.Upstream.Username = v
	}
	if v := firstEnv("GW_UPSTREAM_PASSWORD", "password"); v != "" {
		cfg.Upstream.Password = v
	}
	if v := os.Getenv("GW_UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("GW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.HTTPAddr = ":" + v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// StreamInterval returns the tick interval as a duration.
func (c AppConfig) StreamInterval() time.Duration {
	return time.Duration(c.Stream.IntervalMs) * time.Millisecond
}

// UpstreamTimeout returns the per-call upstream timeout.
func (c AppConfig) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutMs) * time.Millisecond
}
