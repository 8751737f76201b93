package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ecorewards-engine/pkg/db/option"
	"ecorewards-engine/pkg/db/pagination"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/repository"
	queue "ecorewards-engine/pkg/task"
	"ecorewards-engine/pkg/taskname"
	"ecorewards-engine/services/reward"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type distributor interface {
	Distribute(ctx context.Context, periodKey string) (*reward.Result, error)
	CurrentPeriod(now time.Time) string
}

type Service struct {
	node     *snowflake.Node
	now      func() time.Time
	reward   distributor
	enqueuer queue.Enqueuer

	jobs repository.Repository[Job]
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Reward   *reward.Service
	Enqueuer queue.Enqueuer `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		node:     p.Node,
		now:      time.Now,
		reward:   p.Reward,
		enqueuer: p.Enqueuer,

		jobs: repository.ProvideStore[Job](p.DB),
	}
}

// RunDistribution distributes periodKey and records the attempt. A failed
// attempt is marked failed and may be run again. jobID continues a record
// created at enqueue time; an empty jobID starts a new one.
func (s *Service) RunDistribution(ctx context.Context, periodKey, trigger, jobID string) (*reward.Result, error) {
	if periodKey == "" {
		periodKey = s.reward.CurrentPeriod(s.now())
	}
	if err := reward.ValidatePeriod(periodKey); err != nil {
		return nil, err
	}

	job, err := s.startJob(ctx, periodKey, trigger, jobID)
	if err != nil {
		zap.L().Error("failed to record job start", zap.String("period_key", periodKey), zap.Error(err))
		return nil, err
	}

	res, runErr := s.reward.Distribute(ctx, periodKey)

	status, meta := JobSuccess, map[string]any{"trigger": trigger}
	switch {
	case runErr != nil:
		status = JobFailed
	case res.Outcome != reward.OutcomeCompleted:
		status = JobSkipped
		meta["outcome"] = res.Outcome
	default:
		meta["outcome"] = res.Outcome
	}
	if res != nil && res.Distribution != nil {
		meta["distribution_id"] = res.Distribution.ID
		meta["code"] = res.Distribution.Code
	}

	if err := s.finishJob(ctx, job.ID, status, runErr, meta); err != nil {
		zap.L().Error("failed to record job result", zap.String("job_id", job.ID), zap.Error(err))
	}

	if runErr != nil {
		return nil, runErr
	}
	return res, nil
}

func (s *Service) startJob(ctx context.Context, periodKey, trigger, jobID string) (*Job, error) {
	now := s.now().UTC()

	if jobID != "" {
		job, err := s.jobs.FindOne(ctx, &Job{ID: jobID})
		if err != nil {
			return nil, err
		}
		if job != nil {
			err := s.jobs.Update(ctx, job.ID, map[string]any{
				"status":     JobRunning,
				"started_at": now,
				"error_msg":  "",
				"updated_at": now,
			})
			if err != nil {
				return nil, err
			}
			return job, nil
		}
	}

	job := &Job{
		ID:        s.node.Generate().String(),
		TaskName:  taskname.RewardDistribute,
		PeriodKey: periodKey,
		Status:    JobRunning,
		StartedAt: &now,
		Metadata:  mustJSON(map[string]any{"trigger": trigger}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) finishJob(ctx context.Context, id string, status JobStatus, runErr error, meta map[string]any) error {
	now := s.now().UTC()
	updates := map[string]any{
		"status":       status,
		"completed_at": now,
		"updated_at":   now,
		"metadata":     mustJSON(meta),
	}
	if runErr != nil {
		updates["error_msg"] = runErr.Error()
	}
	return s.jobs.Update(ctx, id, updates)
}

// EnqueueDistribution queues a distribution task for periodKey. Only one
// task per period is accepted by the queue at a time.
func (s *Service) EnqueueDistribution(ctx context.Context, periodKey, trigger string) (*Job, error) {
	if s.enqueuer == nil {
		return nil, errors.New("task queue is not configured")
	}
	if err := reward.ValidatePeriod(periodKey); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &Job{
		ID:        s.node.Generate().String(),
		TaskName:  taskname.RewardDistribute,
		PeriodKey: periodKey,
		Status:    JobPending,
		Metadata:  mustJSON(map[string]any{"trigger": trigger}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(distributePayload{PeriodKey: periodKey, JobID: job.ID, Trigger: trigger})
	if err != nil {
		return nil, err
	}

	_, err = s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.RewardDistribute, payload),
		asynq.Queue(taskname.QueueCritical),
		asynq.TaskID(fmt.Sprintf("%s:%s", taskname.RewardDistribute, periodKey)),
		asynq.MaxRetry(10),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Info("distribution already queued", zap.String("period_key", periodKey))
		_ = s.finishJob(ctx, job.ID, JobSkipped, nil, map[string]any{"trigger": trigger, "reason": "already queued"})
		job.Status = JobSkipped
		return job, nil
	}
	if err != nil {
		_ = s.finishJob(ctx, job.ID, JobFailed, err, map[string]any{"trigger": trigger})
		return nil, err
	}

	zap.L().Info("enqueued distribution",
		zap.String("period_key", periodKey),
		zap.String("job_id", job.ID),
		zap.String("trigger", trigger),
	)
	return job, nil
}

// HandleDistributeTask is the asynq handler for reward:distribute.
func (s *Service) HandleDistributeTask(ctx context.Context, t *asynq.Task) error {
	var payload distributePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid distribute payload", zap.Error(err))
		return fmt.Errorf("decode distribute payload: %v: %w", err, asynq.SkipRetry)
	}

	res, err := s.RunDistribution(ctx, payload.PeriodKey, payload.Trigger, payload.JobID)
	if errutil.Is(err, errutil.StatusBadRequest) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	zap.L().Info("distribution task finished",
		zap.String("period_key", payload.PeriodKey),
		zap.String("outcome", string(res.Outcome)),
	)
	return nil
}

// ListJobs pages execution records newest first.
func (s *Service) ListJobs(ctx context.Context, periodKey string, page pagination.Pagination) ([]*Job, *pagination.PageInfo, error) {
	page = page.Normalize()

	opts := []option.QueryOption{
		option.WithSortBy(
			option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"},
			option.QuerySortBy{SortBy: "id", OrderBy: "desc"},
		),
		option.WithLimit(page.Limit + 1),
	}
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.WithWhere("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, cursor.ID))
	}

	jobs, err := s.jobs.Find(ctx, &Job{PeriodKey: periodKey}, opts...)
	if err != nil {
		zap.L().Error("failed to list jobs", zap.Error(err))
		return nil, nil, err
	}

	jobs, info := pagination.BuildCursorPageInfo(jobs, page.Limit, func(j *Job) pagination.Cursor {
		return pagination.Cursor{CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339Nano), ID: j.ID}
	})
	return jobs, info, nil
}

func mustJSON(v map[string]any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
