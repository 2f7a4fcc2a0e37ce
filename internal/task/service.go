package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rentradar/internal/dedup"
	"rentradar/internal/domain"
)

// TaskQueue is the producer side of the shared work queue.
type TaskQueue interface {
	EnqueueTask(ctx context.Context, payload []byte) error
}

// Service gates task submission behind the enqueue-phase dedup lock and
// pushes accepted descriptors onto the queue.
type Service struct {
	queue  TaskQueue
	locks  *dedup.Manager
	logger *zap.Logger
}

func NewService(queue TaskQueue, locks *dedup.Manager, logger *zap.Logger) *Service {
	return &Service{queue: queue, locks: locks, logger: logger}
}

// Enqueue submits one task request. A denied receipt with a nil error means
// the enqueue window for this fingerprint is already taken; an error means
// the queue itself failed, in which case the lock is released so the next
// trigger is not shadow-banned by a push that never happened.
func (s *Service) Enqueue(ctx context.Context, req domain.TaskRequest) (domain.EnqueueReceipt, error) {
	if req.Fingerprint == "" {
		req.Fingerprint = domain.DefaultFingerprint
	}

	if !s.locks.Acquire(ctx, dedup.PhaseEnqueue, req.Task, req.Fingerprint) {
		return domain.EnqueueReceipt{Enqueued: false, Reason: "duplicate_enqueue"}, nil
	}

	req.ID = uuid.NewString()
	req.EnqueuedAt = time.Now().UTC()

	payload, err := json.Marshal(req)
	if err != nil {
		s.locks.Release(ctx, dedup.PhaseEnqueue, req.Task, req.Fingerprint)
		return domain.EnqueueReceipt{}, fmt.Errorf("marshal task request: %w", err)
	}
	if err := s.queue.EnqueueTask(ctx, payload); err != nil {
		s.locks.Release(ctx, dedup.PhaseEnqueue, req.Task, req.Fingerprint)
		return domain.EnqueueReceipt{}, fmt.Errorf("enqueue %s: %w", req.Task, err)
	}

	s.logger.Info("task enqueued",
		zap.String("task", req.Task),
		zap.String("task_id", req.ID),
		zap.String("fingerprint", req.Fingerprint))
	return domain.EnqueueReceipt{Enqueued: true, TaskID: req.ID}, nil
}
