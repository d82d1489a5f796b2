package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"epochsync/internal/lock"
	"epochsync/internal/model"
)

// Outcome is what a job reports back after reconciling.
type Outcome struct {
	Epoch   int
	Rows    int
	Deleted int
}

// Job is one Epoch -> Fetch -> Transform -> Reconcile pipeline.
type Job struct {
	Name  string
	Short string
	Run   func(ctx context.Context, env *Env) (Outcome, error)
}

var registry = map[string]Job{}

func register(job Job) {
	registry[job.Name] = job
}

// All returns every job ordered by name.
func All() []Job {
	out := make([]Job, 0, len(registry))
	for _, job := range registry {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a job by name.
func Lookup(name string) (Job, bool) {
	job, ok := registry[name]
	return job, ok
}

// Execute runs job under the env's lock and records the run.
// Panics are recovered and reported as errors.
func Execute(ctx context.Context, env *Env, job Job) (err error) {
	logger := env.logger().With(zap.String("job", job.Name))

	locker := env.Locker
	if locker == nil {
		locker = lock.NopLocker{}
	}
	release, err := locker.Acquire(ctx, job.Name)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			logger.Warn("job already running", zap.Error(err))
		} else {
			logger.Error("job failed", zap.Error(err))
		}
		return err
	}
	defer release()

	if env.Mirror != nil {
		if last, ok, err := env.Mirror.LoadRun(ctx, job.Name); err != nil {
			logger.Warn("load last run", zap.Error(err))
		} else if ok {
			logger.Debug("last run", zap.Int("epoch", last.Epoch), zap.Time("finished_at", last.FinishedAt))
		}
	}

	started := env.now()
	logger.Info("job started")

	var out Outcome
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
		run := model.RunRecord{
			Job:        job.Name,
			Epoch:      out.Epoch,
			Rows:       out.Rows,
			Deleted:    out.Deleted,
			StartedAt:  started,
			FinishedAt: env.now(),
		}
		if err != nil {
			run.Error = err.Error()
			logger.Error("job failed", zap.Error(err))
		} else {
			logger.Info("job finished",
				zap.Int("epoch", out.Epoch),
				zap.Int("rows", out.Rows),
				zap.Int("deleted", out.Deleted),
				zap.Duration("elapsed", run.FinishedAt.Sub(started)),
			)
		}
		env.record(ctx, logger, run)
	}()

	out, err = job.Run(ctx, env.forRun())
	return err
}

// forRun returns a shallow copy of e. Reference tables it loads lazily belong to one run.
func (e *Env) forRun() *Env {
	run := *e
	return &run
}

func (e *Env) record(ctx context.Context, logger *zap.Logger, run model.RunRecord) {
	if e.Journal != nil {
		if err := e.Journal.PutRuns([]model.RunRecord{run}); err != nil {
			logger.Warn("journal write failed", zap.Error(err))
		}
	}
	if e.Mirror != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := e.Mirror.SaveRun(ctx, run); err != nil {
			logger.Warn("save run failed", zap.Error(err))
		}
	}
}
