package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"ecorewards-engine/pkg/taskname"
	"ecorewards-engine/services/testutil"
	"ecorewards-engine/services/user"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

type fakeSender struct {
	sent []Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, m Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

var notice = RewardNotice{
	UserID:    "u1",
	PeriodKey: "2026-03-01",
	Code:      "RWD-260301-001",
	Rank:      1,
	Bonus:     15,
	NewTotal:  135,
}

func TestNotifyRewardEnqueuesTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	n := NewTaskNotifier(enq)

	require.NoError(t, n.NotifyReward(context.Background(), notice))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, taskname.NotificationReward, enq.tasks[0].Type())

	var got RewardNotice
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &got))
	require.Equal(t, notice, got)
}

func TestNotifyRewardIgnoresDuplicate(t *testing.T) {
	enq := &fakeEnqueuer{err: fmt.Errorf("failed to enqueue task: %w", asynq.ErrTaskIDConflict)}
	n := NewTaskNotifier(enq)

	require.NoError(t, n.NotifyReward(context.Background(), notice))
}

func TestNotifyRewardPropagatesQueueError(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	n := NewTaskNotifier(enq)

	require.Error(t, n.NotifyReward(context.Background(), notice))
}

func newTestHandler(t *testing.T, sender Sender) *Handler {
	db := testutil.NewTestDB(t, &user.User{})
	require.NoError(t, db.Create(&user.User{ID: "u1", Email: "ada@example.com", Name: "Ada", Role: user.RoleUser, IsActive: true}).Error)
	return NewHandler(HandlerParams{DB: db, Sender: sender})
}

func rewardTask(t *testing.T, n RewardNotice) *asynq.Task {
	payload, err := json.Marshal(n)
	require.NoError(t, err)
	return asynq.NewTask(taskname.NotificationReward, payload)
}

func TestHandleRewardPublishesMessage(t *testing.T) {
	sender := &fakeSender{}
	h := newTestHandler(t, sender)

	require.NoError(t, h.HandleReward(context.Background(), rewardTask(t, notice)))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	require.Equal(t, "ada@example.com", msg.Recipient)
	require.Equal(t, TemplateRewardWon, msg.Template)
	require.Equal(t, int64(15), msg.Data["bonus"])
	require.Equal(t, "2026-03-01", msg.Data["period_key"])
}

func TestHandleRewardDropsUnknownUser(t *testing.T) {
	sender := &fakeSender{}
	h := newTestHandler(t, sender)

	n := notice
	n.UserID = "ghost"
	require.NoError(t, h.HandleReward(context.Background(), rewardTask(t, n)))
	require.Empty(t, sender.sent)
}

func TestHandleRewardRetriesOnBrokerError(t *testing.T) {
	h := newTestHandler(t, &fakeSender{err: errors.New("broker unreachable")})

	err := h.HandleReward(context.Background(), rewardTask(t, notice))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleRewardSkipsRetryOnBadPayload(t *testing.T) {
	h := newTestHandler(t, &fakeSender{})

	err := h.HandleReward(context.Background(), asynq.NewTask(taskname.NotificationReward, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
