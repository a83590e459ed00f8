package config

import (
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap/zapcore"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Server.HTTPAddr == "" {
		return errors.New("server.httpAddr is required")
	}
	if cfg.Server.StreamAddr == "" {
		return errors.New("server.streamAddr is required")
	}
	if cfg.Server.HTTPAddr == cfg.Server.StreamAddr {
		return fmt.Errorf("server.httpAddr and server.streamAddr must differ (%s)", cfg.Server.HTTPAddr)
	}
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.baseURL is invalid: %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.AuthPath == "" {
		return errors.New("upstream.authPath is required")
	}
	if cfg.Upstream.TimeoutMs <= 0 {
		return errors.New("upstream.timeoutMs must be > 0")
	}
	if cfg.Upstream.RateLimit < 0 || cfg.Upstream.RateBurst < 0 {
		return errors.New("upstream rate limits must be >= 0")
	}
	if cfg.Stream.Symbol == "" {
		return errors.New("stream.symbol is required")
	}
	if cfg.Stream.IntervalMs <= 0 {
		return errors.New("stream.intervalMs must be > 0")
	}
	if cfg.Stream.WriteTimeoutMs < 0 {
		return errors.New("stream.writeTimeoutMs must be >= 0")
	}
	if cfg.Session.RefreshMarginSec < 0 || cfg.Session.RefreshIntervalSec < 0 {
		return errors.New("session refresh durations must be >= 0")
	}
	if cfg.Session.RetryBaseMs < 0 || cfg.Session.RetryMaxMs < 0 {
		return errors.New("session retry delays must be >= 0")
	}
	if cfg.Alert.ThrottleSec < 0 {
		return errors.New("alert.throttleSec must be >= 0")
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ValidateCredentials checks the fields that normally arrive via env overrides.
func ValidateCredentials(cfg AppConfig) error {
	if cfg.Upstream.Username == "" || cfg.Upstream.Password == "" {
		return errors.New("upstream.username/password is required (or env overrides)")
	}
	return nil
}
