package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"epochsync/internal/jobs"
)

// Manager runs jobs on cron specs inside one long-lived process.
type Manager struct {
	engine *cron.Cron
	env    *jobs.Env
	logger *zap.Logger
	ctx    context.Context
}

// NewManager builds a UTC cron engine. A job still running when its next tick
// fires is skipped for that tick.
func NewManager(ctx context.Context, env *jobs.Env, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	adapter := cronLogger{logger: logger.Sugar()}
	return &Manager{
		engine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		env:    env,
		logger: logger,
		ctx:    ctx,
	}
}

// Register adds one cron entry per job name in specs.
func (m *Manager) Register(specs map[string]string) error {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		job, ok := jobs.Lookup(name)
		if !ok {
			return fmt.Errorf("schedule: unknown job %q", name)
		}
		spec := specs[name]
		if _, err := m.engine.AddJob(spec, runner{m: m, job: job}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", name, spec, err)
		}
		m.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	}
	return nil
}

// Len returns the number of registered entries.
func (m *Manager) Len() int {
	return len(m.engine.Entries())
}

// Run starts the engine and blocks until ctx is done, then waits for running jobs.
func (m *Manager) Run(ctx context.Context) error {
	if m.Len() == 0 {
		return fmt.Errorf("schedule: no jobs configured")
	}
	m.logger.Info("scheduler started", zap.Int("jobs", m.Len()))
	m.engine.Start()
	<-ctx.Done()
	m.logger.Info("scheduler stopping")
	<-m.engine.Stop().Done()
	return nil
}

type runner struct {
	m   *Manager
	job jobs.Job
}

// Run is invoked by cron. Errors are already logged by jobs.Execute.
func (r runner) Run() {
	_ = jobs.Execute(r.m.ctx, r.m.env, r.job)
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
