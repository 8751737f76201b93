package task

import (
	"ecorewards-engine/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(NewService),
)

// WorkerModule runs distribution tasks and the daily schedule.
var WorkerModule = fx.Module("task.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(RegisterHandlers, StartScheduler),
)

func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.RewardDistribute, s.HandleDistributeTask)
}
