package task

import (
	"context"
	"time"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/featureflags"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues the daily distribution for the current period.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	service *Service
	flags   featureflags.FeatureFlag
}

type SchedulerParams struct {
	fx.In
	Config  *config.Config
	Service *Service
	Flags   featureflags.FeatureFlag
}

func NewScheduler(p SchedulerParams) *Scheduler {
	loc, err := time.LoadLocation(p.Config.Reward.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		spec:    p.Config.Reward.Schedule,
		service: p.Service,
		flags:   p.Flags,
	}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Tick(context.Background()) }); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.cron.Start()
			zap.L().Info("[Scheduler] reward distribution scheduled", zap.String("schedule", s.spec))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-s.cron.Stop().Done():
			case <-ctx.Done():
			}
			zap.L().Warn("[Scheduler] stopped")
			return nil
		},
	})
	return nil
}

// Tick enqueues today's distribution unless the kill switch is off.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.flags.Enabled(ctx, featureflags.RewardDistribution, true) {
		zap.L().Warn("[Scheduler] reward distribution disabled by feature flag")
		return
	}

	period := s.service.reward.CurrentPeriod(s.service.now())
	job, err := s.service.EnqueueDistribution(ctx, period, TriggerSchedule)
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue distribution", zap.String("period_key", period), zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] distribution enqueued",
		zap.String("period_key", period),
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
	)
}
