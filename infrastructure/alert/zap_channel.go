package alert

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapChannel 把告警写入结构化日志，字段 alert=true 便于日志系统过滤。
type ZapChannel struct {
	logger *zap.Logger
	name   string
}

func NewZapChannel(name string, logger *zap.Logger) *ZapChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapChannel{logger: logger, name: name}
}

func (c *ZapChannel) Send(a Alert) error {
	fields := make([]zap.Field, 0, len(a.Fields)+4)
	fields = append(fields,
		zap.Bool("alert", true),
		zap.String("alertLevel", string(a.Level)),
		zap.String("alertKey", a.Key),
		zap.Time("alertTime", a.Timestamp),
	)
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	c.logger.Log(zapLevel(a.Level), a.Message, fields...)
	return nil
}

func (c *ZapChannel) Name() string {
	return c.name
}

func zapLevel(l Level) zapcore.Level {
	switch l {
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
