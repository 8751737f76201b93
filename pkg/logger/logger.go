package logger

import (
	"context"

	"ecorewards-engine/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("zap",
	fx.Provide(New),
)

type ConfigParams struct {
	fx.In
	Lc  fx.Lifecycle
	Cfg *config.Config
}

// Build returns a console logger outside production and a JSON one in
// production. LOG_LEVEL overrides the default level of either.
func Build(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.AppEnv == "production" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.LevelKey = "severity"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		zc.OutputPaths = []string{"stdout"}
	}

	if cfg.LogLevel != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}

	log, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return log.With(
		zap.String("env", cfg.AppEnv),
		zap.String("service_name", cfg.AppName),
		zap.String("version", cfg.AppVersion),
	), nil
}

// New installs the logger as the zap global; services log through zap.L().
func New(p ConfigParams) (*zap.Logger, error) {
	log, err := Build(p.Cfg)
	if err != nil {
		return nil, err
	}
	restore := zap.ReplaceGlobals(log)

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = log.Sync()
			restore()
			return nil
		},
	})
	return log, nil
}
