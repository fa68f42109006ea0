package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	Trigger(ctx context.Context, name string) error
	Start(ctx context.Context)
	Stop()
}

type scheduledJob struct {
	job     Job
	spec    string
	entry   cron.EntryID
	running atomic.Bool
}

// CronScheduler runs background maintenance on five field cron specs. A
// job never overlaps itself: a tick or trigger that finds it still running
// is skipped.
type CronScheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]*scheduledJob
	ctx  context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron: cron.New(cron.WithParser(parser)),
		jobs: make(map[string]*scheduledJob),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name), zap.String("spec", spec))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled: %w", name, appErr.ErrConflict)
	}
	sj := &scheduledJob{job: job, spec: spec}
	entryID, err := c.cron.AddFunc(spec, func() {
		_, _ = c.run(c.baseContext(), sj)
	})
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return fmt.Errorf("schedule job %s: %w", name, appErr.ErrInvalid)
	}
	sj.entry = entryID
	c.jobs[name] = sj
	logger.Info("job scheduled")
	return nil
}

// Trigger runs a scheduled job right away on the caller's goroutine.
func (c *CronScheduler) Trigger(ctx context.Context, name string) error {
	c.mu.Lock()
	sj, ok := c.jobs[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s: %w", name, appErr.ErrNotFound)
	}
	ran, err := c.run(ctx, sj)
	if !ran {
		return fmt.Errorf("job %s still running: %w", name, appErr.ErrConflict)
	}
	return err
}

// Next reports when the named job fires next. It is zero before Start.
func (c *CronScheduler) Next(name string) time.Time {
	c.mu.Lock()
	sj, ok := c.jobs[name]
	c.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return c.cron.Entry(sj.entry).Next
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *CronScheduler) run(ctx context.Context, sj *scheduledJob) (bool, error) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("job", sj.job.Name()),
		zap.String("spec", sj.spec),
	)
	if !sj.running.CompareAndSwap(false, true) {
		logger.Info("job skipped: still running")
		return false, nil
	}
	defer sj.running.Store(false)

	start := time.Now()
	logger.Info("job started")
	err := sj.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
		return true, err
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
	return true, nil
}
