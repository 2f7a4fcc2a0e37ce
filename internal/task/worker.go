package task

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/domain"
)

// WorkQueue is the consumer side of the shared work queue plus the outcome
// store the worker publishes into.
type WorkQueue interface {
	DequeueTask(ctx context.Context, timeout time.Duration) ([]byte, error)
	SaveResult(ctx context.Context, taskID string, payload []byte, ttl time.Duration) error
}

// Worker pulls task descriptors off the queue and drives them through the
// executor. Multiple workers may run against the same queue; the execution
// dedup lock keeps overlapping pulls of the same fingerprint single-flight.
type Worker struct {
	queue       WorkQueue
	executor    *Executor
	pollTimeout time.Duration
	resultTTL   time.Duration
	logger      *zap.Logger
}

func NewWorker(queue WorkQueue, executor *Executor, pollTimeout, resultTTL time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		queue:       queue,
		executor:    executor,
		pollTimeout: pollTimeout,
		resultTTL:   resultTTL,
		logger:      logger,
	}
}

// Run blocks until the context is canceled. Malformed payloads are dropped;
// queue errors back off for one poll interval instead of hot-looping against
// a broken broker.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", zap.Duration("poll_timeout", w.pollTimeout))
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopping")
			return err
		}

		payload, err := w.queue.DequeueTask(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			w.pause(ctx)
			continue
		}
		if payload == nil {
			continue
		}

		var req domain.TaskRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			w.logger.Error("dropping undecodable task payload", zap.Error(err))
			continue
		}

		outcome := w.executor.Execute(ctx, req)
		w.publishOutcome(ctx, req, outcome)
	}
}

func (w *Worker) publishOutcome(ctx context.Context, req domain.TaskRequest, outcome domain.Outcome) {
	if req.ID == "" {
		return
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		w.logger.Error("marshal outcome failed", zap.String("task_id", req.ID), zap.Error(err))
		return
	}
	if err := w.queue.SaveResult(ctx, req.ID, payload, w.resultTTL); err != nil {
		w.logger.Warn("failed to store task outcome",
			zap.String("task_id", req.ID), zap.Error(err))
	}
}

func (w *Worker) pause(ctx context.Context) {
	timer := time.NewTimer(w.pollTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
