package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日誌設定
type Config struct {
	Level       string `yaml:"level"`       // debug / info / warn / error
	Format      string `yaml:"format"`      // json / console
	Development bool   `yaml:"development"` // 開發模式: 彩色輸出、Warn 以上附 stack
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

// New 依設定建立 zap.Logger
//
// 參數:
//
//	cfg: 日誌設定
//
// 回傳值:
//
//	*zap.Logger: logger 實例，呼叫端負責 Sync
//	error: 等級或格式不合法
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "time"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc.Encoding = "json"
		if cfg.Development {
			zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	case "console":
		zc.Encoding = "console"
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return zc.Build()
}
