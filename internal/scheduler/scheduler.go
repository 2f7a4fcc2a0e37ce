// Package scheduler fires recurring crawl triggers on cron expressions. It
// only enqueues: the enqueue-phase dedup lock collapses overlapping ticks
// from redundant scheduler processes, and workers do the actual crawling.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"rentradar/internal/domain"
	"rentradar/internal/task"
)

type Scheduler struct {
	cron    *cron.Cron
	service *task.Service
	logger  *zap.Logger
}

func New(service *task.Service, logger *zap.Logger) *Scheduler {
	cl := &cronLogger{logger: logger}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl))),
		service: service,
		logger:  logger,
	}
}

// Add registers a cron spec that enqueues the named tasks on every tick.
// Scheduled triggers share the default fingerprint, so two scheduler
// processes on the same tick collapse into one run.
func (s *Scheduler) Add(spec string, tasks ...string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.trigger(tasks) }); err != nil {
		return fmt.Errorf("add cron entry %q: %w", spec, err)
	}
	s.logger.Info("cron entry registered",
		zap.String("spec", spec), zap.Strings("tasks", tasks))
	return nil
}

func (s *Scheduler) trigger(tasks []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, name := range tasks {
		receipt, err := s.service.Enqueue(ctx, domain.TaskRequest{
			Task:        name,
			Fingerprint: domain.DefaultFingerprint,
		})
		if err != nil {
			s.logger.Error("scheduled enqueue failed",
				zap.String("task", name), zap.Error(err))
			continue
		}
		if !receipt.Enqueued {
			s.logger.Info("scheduled trigger deduplicated",
				zap.String("task", name), zap.String("reason", receipt.Reason))
			continue
		}
		s.logger.Info("scheduled task enqueued",
			zap.String("task", name), zap.String("task_id", receipt.TaskID))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop halts new ticks. The returned context is done once in-flight triggers
// finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append([]any{"error", err}, keysAndValues...)...)
}
