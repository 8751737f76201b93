package main

import (
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ecorewards-engine/internal/httpapi"
	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/db"
	"ecorewards-engine/pkg/gen"
	"ecorewards-engine/pkg/hashistack/secretmanager"
	"ecorewards-engine/pkg/hashistack/servicediscover"
	"ecorewards-engine/pkg/health"
	"ecorewards-engine/pkg/logger"
	"ecorewards-engine/pkg/otelcol"
	"ecorewards-engine/pkg/profiling"
	"ecorewards-engine/pkg/redis"
	"ecorewards-engine/pkg/sequence"
	"ecorewards-engine/pkg/server"
	"ecorewards-engine/pkg/task"
	"ecorewards-engine/services/action"
	"ecorewards-engine/services/category"
	"ecorewards-engine/services/leaderboard"
	"ecorewards-engine/services/ledger"
	"ecorewards-engine/services/media"
	"ecorewards-engine/services/notification"
	"ecorewards-engine/services/oracle"
	"ecorewards-engine/services/reward"
	rewardtask "ecorewards-engine/services/task"
	"ecorewards-engine/services/user"
)

func main() {
	_ = godotenv.Load()

	opts := []fx.Option{
		secretmanager.Module,
		config.Select(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		health.Module,
		fx.Invoke(migrate),

		category.Module,
		oracle.Module,
		media.Module,
		user.Module,
		ledger.Module,
		action.Module,
		leaderboard.Module,
		notification.Module,
		reward.Module,
		rewardtask.Module,

		httpapi.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		health.GRPC,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func migrate(conn *gorm.DB) error {
	if err := db.Migrate(conn,
		&user.User{},
		&action.Action{},
		&ledger.LedgerEntry{},
		&reward.Distribution{},
		&rewardtask.Job{},
	); err != nil {
		zap.L().Error("failed to migrate schema", zap.Error(err))
		return err
	}
	return nil
}
