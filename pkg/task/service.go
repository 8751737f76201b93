package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

var enqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "ecorewards_tasks_enqueued_total",
	Help: "Task enqueue attempts by type and result.",
}, []string{"type", "result"})

func init() {
	prometheus.MustRegister(enqueued)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// asynqClient is the part of *asynq.Client the enqueuer needs.
type asynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuer struct {
	client asynqClient
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuer{client: client}
}

// Enqueue wraps failures with the task type. A duplicate TaskID is still
// reported as asynq.ErrTaskIDConflict through errors.Is.
func (e *enqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	switch {
	case err == nil:
		enqueued.WithLabelValues(task.Type(), "ok").Inc()
		return info, nil
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		enqueued.WithLabelValues(task.Type(), "duplicate").Inc()
	default:
		enqueued.WithLabelValues(task.Type(), "error").Inc()
	}
	return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
}
