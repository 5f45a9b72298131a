package config

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcncl/jsonflat/internal/errors"
)

// LoggingConfig selects how chatty the console logger is
type LoggingConfig struct {
	Level string `yaml:"level" env:"JSONFLAT_LOG_LEVEL" validate:"required,oneof=none normal debug"`
}

// Prepare returns the program logger. Logs always go to stderr since stdout
// carries the flattened output.
func (conf *LoggingConfig) Prepare() (*zap.Logger, error) {
	return conf.prepare(os.Stderr)
}

func (conf *LoggingConfig) prepare(w io.Writer) (*zap.Logger, error) {
	var level zapcore.Level
	switch conf.Level {
	case "none":
		return zap.NewNop(), nil
	case "normal":
		level = zapcore.InfoLevel
	case "debug":
		level = zapcore.DebugLevel
	default:
		return nil, errors.NewConfigurationError(fmt.Sprintf("unknown log level %q, expected none, normal or debug", conf.Level), nil)
	}

	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeCaller = nil
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.TimeKey = zapcore.OmitKey

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core), nil
}
