package main

import (
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/db"
	"ecorewards-engine/pkg/featureflags"
	"ecorewards-engine/pkg/gen"
	"ecorewards-engine/pkg/hashistack/secretmanager"
	"ecorewards-engine/pkg/logger"
	"ecorewards-engine/pkg/otelcol"
	"ecorewards-engine/pkg/profiling"
	"ecorewards-engine/pkg/redis"
	"ecorewards-engine/pkg/sequence"
	"ecorewards-engine/pkg/task"
	"ecorewards-engine/services/leaderboard"
	"ecorewards-engine/services/ledger"
	"ecorewards-engine/services/notification"
	"ecorewards-engine/services/reward"
	rewardtask "ecorewards-engine/services/task"
	"ecorewards-engine/services/user"
)

// The worker runs the daily reward schedule and drains the asynq queues.
// Schema migration belongs to the engine.
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
		featureflags.Module,
		task.Client,
		task.Server,

		user.Module,
		ledger.Module,
		leaderboard.Module,
		notification.Module,
		notification.WorkerModule,
		reward.Module,
		rewardtask.Module,
		rewardtask.WorkerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
