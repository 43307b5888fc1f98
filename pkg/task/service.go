package task

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer is the producer side of the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type asynqEnqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &asynqEnqueuer{client: client}
}

// Enqueue wraps the asynq error with the task type; asynq sentinels such as
// ErrTaskIDConflict stay matchable with errors.Is.
func (e *asynqEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, t, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", t.Type(), err)
	}

	zap.L().Debug("task enqueued",
		zap.String("type", info.Type),
		zap.String("id", info.ID),
		zap.String("queue", info.Queue),
		zap.Time("process_at", info.NextProcessAt),
	)
	return info, nil
}
