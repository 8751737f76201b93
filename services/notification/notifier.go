package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ecorewards-engine/pkg/task"
	"ecorewards-engine/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the enqueueing side, used wherever rewards are granted.
var Module = fx.Module("notification",
	fx.Provide(NewTaskNotifier),
)

type Notifier interface {
	NotifyReward(ctx context.Context, n RewardNotice) error
}

type TaskNotifier struct {
	enqueuer task.Enqueuer
}

func NewTaskNotifier(enqueuer task.Enqueuer) Notifier {
	return &TaskNotifier{enqueuer: enqueuer}
}

// NotifyReward queues one notice. A notice already queued for the same
// period and user is not queued twice.
func (n *TaskNotifier) NotifyReward(ctx context.Context, notice RewardNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal reward notice: %w", err)
	}

	t := asynq.NewTask(taskname.NotificationReward, payload)
	_, err = n.enqueuer.Enqueue(ctx, t,
		asynq.Queue(taskname.QueueLow),
		asynq.MaxRetry(5),
		asynq.TaskID(fmt.Sprintf("%s:%s:%s", taskname.NotificationReward, notice.PeriodKey, notice.UserID)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Debug("reward notice already queued",
			zap.String("user_id", notice.UserID),
			zap.String("period_key", notice.PeriodKey),
		)
		return nil
	}
	return err
}
