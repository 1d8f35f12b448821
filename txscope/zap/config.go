package zap

import (
	"fmt"
	"strings"

	"github.com/LerianStudio/lib-txscope/txscope/internal/validation"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const callerSkipFrames = 1

type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentStaging     Environment = "staging"
	EnvironmentDevelopment Environment = "development"
	EnvironmentLocal       Environment = "local"
)

func (e Environment) verbose() bool {
	return e == EnvironmentDevelopment || e == EnvironmentLocal
}

// Config holds logger construction inputs. Level overrides the
// environment default (debug for development and local, info otherwise).
type Config struct {
	Environment     Environment `validate:"oneof=production staging development local"`
	Level           string
	OTelLibraryName string `validate:"notblank"`
}

// New builds a JSON zap logger teed into the OpenTelemetry log bridge.
func New(cfg Config) (*Logger, error) {
	if err := validation.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid zap config: %w", err)
	}

	level, err := cfg.level()
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Environment.verbose() {
		zc = zap.NewDevelopmentConfig()
	}

	zc.Encoding = "json"
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.Level = level
	zc.DisableStacktrace = true

	built, err := zc.Build(
		zap.AddCallerSkip(callerSkipFrames),
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, otelzap.NewCore(cfg.OTelLibraryName))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("building zap logger: %w", err)
	}

	return &Logger{logger: built, atomicLevel: level}, nil
}

func (cfg Config) level() (zap.AtomicLevel, error) {
	if strings.TrimSpace(cfg.Level) == "" {
		if cfg.Environment.verbose() {
			return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
		}

		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}

	var parsed zapcore.Level
	if err := parsed.Set(cfg.Level); err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid level %q: %w", cfg.Level, err)
	}

	return zap.NewAtomicLevelAt(parsed), nil
}
