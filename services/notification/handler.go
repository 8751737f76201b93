package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"ecorewards-engine/pkg/repository"
	"ecorewards-engine/pkg/taskname"
	"ecorewards-engine/services/user"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WorkerModule delivers queued notices to the broker.
var WorkerModule = fx.Module("notification.worker",
	fx.Provide(NewRabbitSender, NewHandler),
	fx.Invoke(RegisterHandlers),
)

type Handler struct {
	users  repository.Repository[user.User]
	sender Sender
}

type HandlerParams struct {
	fx.In
	DB     *gorm.DB
	Sender Sender
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		users:  repository.ProvideStore[user.User](p.DB),
		sender: p.Sender,
	}
}

func RegisterHandlers(mux *asynq.ServeMux, h *Handler) {
	mux.HandleFunc(taskname.NotificationReward, h.HandleReward)
}

// HandleReward resolves the winner's address and hands the message to the
// broker. Notices for users that no longer exist are dropped.
func (h *Handler) HandleReward(ctx context.Context, t *asynq.Task) error {
	var notice RewardNotice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		zap.L().Error("invalid reward notice payload", zap.Error(err))
		return fmt.Errorf("decode reward notice: %v: %w", err, asynq.SkipRetry)
	}

	u, err := h.users.FindOne(ctx, &user.User{ID: notice.UserID})
	if err != nil {
		return err
	}
	if u == nil || u.Email == "" {
		zap.L().Warn("reward notice dropped, no recipient", zap.String("user_id", notice.UserID))
		return nil
	}

	msg := Message{
		Recipient: u.Email,
		Template:  TemplateRewardWon,
		Data: map[string]any{
			"name":       u.Name,
			"period_key": notice.PeriodKey,
			"code":       notice.Code,
			"rank":       notice.Rank,
			"bonus":      notice.Bonus,
			"new_total":  notice.NewTotal,
		},
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		zap.L().Warn("failed to publish reward notice",
			zap.String("user_id", notice.UserID),
			zap.String("period_key", notice.PeriodKey),
			zap.Error(err),
		)
		return err
	}

	zap.L().Info("reward notice published",
		zap.String("user_id", notice.UserID),
		zap.String("period_key", notice.PeriodKey),
		zap.Int("rank", notice.Rank),
	)
	return nil
}
