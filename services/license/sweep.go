package license

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/rediskey"
	"smallbiznis-licensing/pkg/task"
	"smallbiznis-licensing/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// The sweep stores status=expired for reporting. Reads never depend on it:
// expiry is always computed from expires_at.

type sweepPayload struct {
	AsOf time.Time `json:"as_of"`
}

type Sweeper struct {
	store    Store
	enqueuer task.Enqueuer
	hour     int
	now      func() time.Time
}

type SweeperParams struct {
	fx.In
	Store    Store
	Config   *config.Config
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewSweeper(p SweeperParams) *Sweeper {
	return &Sweeper{
		store:    p.Store,
		enqueuer: p.Enqueuer,
		hour:     p.Config.License.SweepHour,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleExpirySweep is the asynq handler for taskname.LicenseExpirySweep.
func (s *Sweeper) HandleExpirySweep(ctx context.Context, t *asynq.Task) error {
	asOf := s.now()

	var p sweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return errors.Join(err, asynq.SkipRetry)
		}
		// never sweep ahead of the clock
		if !p.AsOf.IsZero() && p.AsOf.Before(asOf) {
			asOf = p.AsOf
		}
	}

	n, err := s.store.MarkExpired(ctx, asOf)
	if err != nil {
		zap.L().Error("license expiry sweep failed", zap.Error(err))
		return err
	}

	recordSwept(n)
	zap.L().Info("license expiry sweep done", zap.Int64("expired", n), zap.Time("as_of", asOf))
	return nil
}

// EnqueueSweep schedules one sweep per UTC day; a second call on the same day
// is a no-op.
func (s *Sweeper) EnqueueSweep(ctx context.Context) error {
	if s.enqueuer == nil {
		return errors.New("license: sweep enqueuer not configured")
	}

	now := s.now()
	payload, err := json.Marshal(sweepPayload{AsOf: now})
	if err != nil {
		return err
	}

	_, err = s.enqueuer.Enqueue(ctx,
		asynq.NewTask(taskname.LicenseExpirySweep, payload),
		asynq.TaskID(rediskey.BuildSweepTaskID(now.Format(time.DateOnly))),
		asynq.Queue(taskname.QueueLow),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Info("license expiry sweep already enqueued today")
		return nil
	}
	return err
}

// RunScheduler enqueues the sweep daily at the configured hour until ctx is
// done.
func (s *Sweeper) RunScheduler(ctx context.Context) {
	zap.L().Info("[Scheduler] started license expiry scheduler", zap.Int("hour", s.hour))

	for {
		now := s.now()
		next := nextRunTime(now, s.hour, 0)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			if err := s.EnqueueSweep(ctx); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue license expiry sweep", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// nextRunTime returns the next occurrence of hour:minute strictly after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

func RegisterSweepHandler(mux *asynq.ServeMux, s *Sweeper) {
	mux.HandleFunc(taskname.LicenseExpirySweep, s.HandleExpirySweep)
}

func StartSweepScheduler(lc fx.Lifecycle, s *Sweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunScheduler(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
