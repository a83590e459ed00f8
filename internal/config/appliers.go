package config

import (
	"time"

	appconfig "broker-gateway-go/config"
)

// LevelSetter 由 *logger.Logger 实现。
type LevelSetter interface {
	SetLevel(level string) error
}

// IntervalSetter 由 *stream.Server 实现。
type IntervalSetter interface {
	SetInterval(d time.Duration)
}

// LogLevelApplier 热更新日志级别。
func LogLevelApplier(l LevelSetter) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		return l.SetLevel(cfg.Log.Level)
	})
}

// StreamIntervalApplier 热更新推送间隔，已建立的连接保持原间隔。
func StreamIntervalApplier(s IntervalSetter) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		s.SetInterval(cfg.StreamInterval())
		return nil
	})
}
