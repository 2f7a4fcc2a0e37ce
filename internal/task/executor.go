// Package task composes fetching, schema validation, dedup locking, and
// persistence into single observable runs. Every invocation resolves to
// exactly one terminal outcome; nothing below this boundary is allowed to
// escape as an unhandled failure.
package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/crawler"
	"rentradar/internal/dedup"
	"rentradar/internal/domain"
	"rentradar/internal/monitoring"
	"rentradar/internal/schema"
)

// Sink is the persistence boundary. It is only reached by runs whose payload
// passed the schema guard.
type Sink interface {
	UpsertListings(ctx context.Context, rows []domain.Listing) (int, error)
	UpsertTrades(ctx context.Context, rows []domain.RealTrade) (int, error)
	DeactivateStale(ctx context.Context, scope domain.DeactivationScope, seenIDs []string) (int, error)
}

// Executor runs registered crawl tasks behind the execution-phase dedup lock.
type Executor struct {
	crawlers          map[string]crawler.Crawler
	sink              Sink
	locks             *dedup.Manager
	staleMatchFilters bool
	logger            *zap.Logger
	metrics           *monitoring.Metrics
}

// NewExecutor builds an executor with no registered tasks. staleMatchFilters
// controls deactivation scope: when false, the sweep after a listing run is
// narrowed by source only instead of the run's full filter set.
func NewExecutor(sink Sink, locks *dedup.Manager, staleMatchFilters bool, logger *zap.Logger, metrics *monitoring.Metrics) *Executor {
	return &Executor{
		crawlers:          make(map[string]crawler.Crawler),
		sink:              sink,
		locks:             locks,
		staleMatchFilters: staleMatchFilters,
		logger:            logger,
		metrics:           metrics,
	}
}

// Register binds a crawler to a task name.
func (e *Executor) Register(taskName string, c crawler.Crawler) {
	e.crawlers[taskName] = c
}

// Execute runs one task request to a terminal outcome. It never returns an
// error and never panics: duplicate runs, guard failures, and unexpected
// exceptions all resolve to their status.
func (e *Executor) Execute(ctx context.Context, req domain.TaskRequest) domain.Outcome {
	started := time.Now()
	stats := &domain.RunStats{}

	outcome := e.run(ctx, req, stats)
	outcome.TaskID = req.ID
	outcome.ElapsedMS = time.Since(started).Milliseconds()

	e.metrics.ObserveRun(req.Task, outcome.Status, time.Since(started))
	e.logOutcome(req, outcome, stats)
	return outcome
}

func (e *Executor) run(ctx context.Context, req domain.TaskRequest, stats *domain.RunStats) (outcome domain.Outcome) {
	c, ok := e.crawlers[req.Task]
	if !ok {
		return unexpectedOutcome("", fmt.Sprintf("unknown task %q", req.Task))
	}
	source := c.Source()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked",
				zap.String("task", req.Task),
				zap.Any("panic", r),
				zap.Stack("stack"))
			outcome = unexpectedOutcome(source, fmt.Sprintf("panic: %v", r))
		}
	}()

	fingerprint := req.Fingerprint
	if fingerprint == "" {
		fingerprint = domain.DefaultFingerprint
	}
	if !e.locks.Acquire(ctx, dedup.PhaseExecution, req.Task, fingerprint) {
		return skippedOutcome(source)
	}

	// The execution lock is left to expire with its TTL: releasing it on
	// completion would reopen the dedup window immediately.

	result, err := c.Run(ctx, req, stats)
	if err != nil {
		return unexpectedOutcome(source, err.Error())
	}

	valid := schema.ValidListings(result.Listings)
	dropped := len(result.Listings) - len(valid)
	parsed := len(valid) + len(result.Trades)
	invalid := result.InvalidCount + dropped

	e.metrics.AddItems(source, "raw", result.RawCount)
	e.metrics.AddItems(source, "parsed", parsed)

	switch schema.Classify(result.RawCount, parsed) {
	case schema.VerdictMismatch:
		mismatch := &schema.MismatchError{
			Source:       source,
			RawCount:     result.RawCount,
			ParsedCount:  parsed,
			InvalidCount: invalid,
			KeySamples:   result.KeySamples,
		}
		return domain.Outcome{
			Status:     domain.StatusSchemaMismatch,
			Source:     source,
			Reason:     mismatch.Error(),
			ActionHint: actionHint(domain.StatusSchemaMismatch),
		}
	case schema.VerdictEmpty:
		// Nothing observed. Deactivation is skipped too: with an empty
		// seen set a scoped sweep would mark the whole scope stale.
		return domain.Outcome{Status: domain.StatusOK, Source: source}
	}

	inserted := 0
	deactivated := 0
	if len(valid) > 0 {
		if inserted, err = e.sink.UpsertListings(ctx, valid); err != nil {
			return unexpectedOutcome(source, err.Error())
		}
		if result.Scope.Source != "" {
			scope := result.Scope
			if !e.staleMatchFilters {
				scope = domain.DeactivationScope{Source: scope.Source}
			}
			seenIDs := make([]string, 0, len(valid))
			for _, l := range valid {
				seenIDs = append(seenIDs, l.SourceID)
			}
			if deactivated, err = e.sink.DeactivateStale(ctx, scope, seenIDs); err != nil {
				return unexpectedOutcome(source, err.Error())
			}
		}
	}
	if len(result.Trades) > 0 {
		n, err := e.sink.UpsertTrades(ctx, result.Trades)
		if err != nil {
			return unexpectedOutcome(source, err.Error())
		}
		inserted += n
	}

	e.metrics.AddItems(source, "inserted", inserted)
	e.metrics.AddItems(source, "deactivated", deactivated)

	return domain.Outcome{
		Status:      domain.StatusOK,
		Source:      source,
		Fetched:     parsed,
		Inserted:    inserted,
		Deactivated: deactivated,
	}
}

func (e *Executor) logOutcome(req domain.TaskRequest, outcome domain.Outcome, stats *domain.RunStats) {
	fields := []zap.Field{
		zap.String("task", req.Task),
		zap.String("task_id", req.ID),
		zap.String("status", outcome.Status),
		zap.Int("fetched", outcome.Fetched),
		zap.Int("inserted", outcome.Inserted),
		zap.Int("deactivated", outcome.Deactivated),
		zap.Int("attempts", stats.Attempts),
		zap.Int("retries", stats.Retries),
		zap.Int("cooldowns", stats.Cooldowns),
		zap.Int64("elapsed_ms", outcome.ElapsedMS),
	}
	switch outcome.Status {
	case domain.StatusOK:
		e.logger.Info("task run finished", fields...)
	case domain.StatusSkippedDuplicate:
		e.logger.Info("task run skipped", fields...)
	default:
		e.logger.Error("task run failed", append(fields, zap.String("reason", outcome.Reason))...)
	}
}

func skippedOutcome(source string) domain.Outcome {
	return domain.Outcome{
		Status:     domain.StatusSkippedDuplicate,
		Source:     source,
		Reason:     "execution dedup lock already held",
		ActionHint: actionHint(domain.StatusSkippedDuplicate),
	}
}

func unexpectedOutcome(source, reason string) domain.Outcome {
	return domain.Outcome{
		Status:     domain.StatusUnexpectedError,
		Source:     source,
		Reason:     reason,
		ActionHint: actionHint(domain.StatusUnexpectedError),
	}
}

// actionHint tells operators what to do next for each non-ok status. The
// texts are part of the smoke-test contract.
func actionHint(status string) string {
	switch status {
	case domain.StatusSchemaMismatch:
		return "inspect schema samples and update the parser before retrying"
	case domain.StatusSkippedDuplicate:
		return "rerun after the dedup TTL expires or trigger with a fresh fingerprint"
	case domain.StatusUnexpectedError:
		return "inspect logs and resolve the runtime error before retrying"
	default:
		return ""
	}
}
