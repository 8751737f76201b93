package task

import (
	"context"
	"time"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client provides the Enqueuer used by the engine and the worker.
var Client = fx.Module("asynq:client",
	fx.Provide(newClient, NewEnqueuer),
)

// Server runs queued tasks. Handlers register on the provided ServeMux.
var Server = fx.Module("asynq:server",
	fx.Provide(newServeMux),
	fx.Invoke(runServer),
)

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// newClient does not fail startup when redis is down; enqueue errors are
// handled per call.
func newClient(lc fx.Lifecycle, cfg *config.Config) *asynq.Client {
	client := asynq.NewClient(redisOpt(cfg))
	if err := client.Ping(); err != nil {
		zap.L().Warn("[Asynq] redis unreachable, enqueues will fail until it recovers", zap.Error(err))
	} else {
		zap.L().Info("[Asynq] client connected", zap.String("addr", cfg.Redis.Addr))
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func newServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(loggingMiddleware)
	return mux
}

func loggingMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, t)

		fields := []zap.Field{
			zap.String("task_type", t.Type()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if id, ok := asynq.GetTaskID(ctx); ok {
			fields = append(fields, zap.String("task_id", id))
		}
		if retried, ok := asynq.GetRetryCount(ctx); ok && retried > 0 {
			fields = append(fields, zap.Int("retry", retried))
		}

		if err != nil {
			zap.L().Warn("[Asynq] task failed", append(fields, zap.Error(err))...)
			return err
		}
		zap.L().Debug("[Asynq] task processed", fields...)
		return nil
	})
}

func runServer(lc fx.Lifecycle, cfg *config.Config, mux *asynq.ServeMux) {
	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency:     concurrency,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		RetryDelayFunc:  asynq.DefaultRetryDelayFunc,
		Queues: map[string]int{
			taskname.QueueCritical: 6,
			taskname.QueueDefault:  3,
			taskname.QueueLow:      1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried < maxRetry {
				return
			}
			zap.L().Error("[Asynq] task permanently failed",
				zap.String("task_type", task.Type()),
				zap.Int("retries", retried),
				zap.Error(err),
			)
		}),
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(mux); err != nil {
				zap.L().Error("[Asynq] failed to start server", zap.Error(err))
				return err
			}
			zap.L().Info("[Asynq] server started", zap.Int("concurrency", concurrency))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}
