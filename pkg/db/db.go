package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ecorewards-engine/pkg/config"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/prometheus"
)

var Module = fx.Module("database",
	fx.Provide(
		Dialect,
		New,
	),
	fx.Invoke(RegisterConnectionPool, registerPlugins),
)

const retryDelay = 3 * time.Second

// Dialect picks the gorm dialector for DATABASE.TYPE.
func Dialect(cfg *config.Config) gorm.Dialector {
	d := cfg.Database
	switch strings.ToLower(d.Type) {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBNAME)
		return mysql.Open(dsn)
	case "sqlite":
		return sqlite.Open(d.DBNAME)
	default:
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			d.Host, d.Port, d.User, d.Password, d.DBNAME, d.SSLMode, d.Timezone)
		return postgres.Open(dsn)
	}
}

// New opens the database, retrying while it comes up. Driver errors are
// translated so IsUniqueViolation works across dialects.
func New(cfg *config.Config, dialector gorm.Dialector) (*gorm.DB, error) {
	level, showSQL := logger.Info, true
	if cfg.AppEnv == "production" {
		level, showSQL = logger.Warn, false
	}
	gormLogger := NewZapGormLogger(level, showSQL, cfg.Database.SlowThreshold)

	attempts := cfg.Database.ConnectRetries
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		var conn *gorm.DB
		conn, err = gorm.Open(dialector, &gorm.Config{
			Logger:         gormLogger,
			TranslateError: true,
		})
		if err == nil {
			zap.L().Info("[DB] connected", zap.String("type", cfg.Database.Type), zap.String("dbname", cfg.Database.DBNAME))
			return conn, nil
		}
		zap.L().Warn("[DB] database not ready, retrying",
			zap.Int("attempt", i),
			zap.Duration("delay", retryDelay),
			zap.Error(err),
		)
		if i < attempts {
			time.Sleep(retryDelay)
		}
	}

	zap.L().Error("[DB] failed to connect to database", zap.Error(err))
	return nil, fmt.Errorf("connect %s: %w", cfg.Database.Type, err)
}

type connectionPoolParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    *config.Config
}

func RegisterConnectionPool(p connectionPoolParams) error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		zap.L().Error("[DB] failed to get sql.DB from gorm", zap.Error(err))
		return err
	}

	cp := p.Config.Database.ConnectionPool
	sqlDB.SetMaxIdleConns(cp.MaxIdleConn)
	sqlDB.SetMaxOpenConns(cp.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cp.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cp.ConnMaxIdleTime)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("[DB] closing connection pool")
			return sqlDB.Close()
		},
	})
	return nil
}

func registerPlugins(db *gorm.DB, cfg *config.Config) error {
	if cfg.Otel.Addr != "" {
		if err := db.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.Database.DBNAME))); err != nil {
			zap.L().Error("[DB] failed to register db telemetry", zap.Error(err))
			return err
		}
	}
	if cfg.Database.Metrics {
		// Served by the engine's own /metrics handler.
		err := db.Use(prometheus.New(prometheus.Config{
			DBName:          cfg.Database.DBNAME,
			RefreshInterval: 15,
			StartServer:     false,
		}))
		if err != nil {
			zap.L().Error("[DB] failed to register db metrics", zap.Error(err))
			return err
		}
	}
	return nil
}
