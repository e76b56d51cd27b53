// Package engine bounds evaluation concurrency with a worker pool and a
// fixed-depth queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/fraudguard/internal/config"
	"github.com/gyaneshwarpardhi/fraudguard/internal/fraud"
	"github.com/gyaneshwarpardhi/fraudguard/internal/logging"
	"github.com/gyaneshwarpardhi/fraudguard/internal/metrics"
	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

var (
	ErrQueueFull = errors.New("evaluation queue full")
	ErrTimeout   = errors.New("evaluation timeout")
)

// Evaluator runs one transaction through the risk pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, req transaction.Request) (fraud.Evaluation, error)
}

// Engine queues evaluations onto a fixed pool of workers.
type Engine struct {
	eval    Evaluator
	pool    *workerPool[transaction.Request, fraud.Evaluation]
	timeout time.Duration
}

// New creates an Engine using conf and starts its workers. Workers stop when
// ctx is done or Shutdown is called.
func New(ctx context.Context, eval Evaluator, conf config.EngineConf) *Engine {
	workers := conf.Workers
	if workers <= 0 {
		workers = 1
	}
	e := &Engine{
		eval:    eval,
		timeout: time.Duration(conf.TimeoutMs) * time.Millisecond,
	}
	e.pool = newWorkerPool[transaction.Request, fraud.Evaluation](
		ctx,
		workers,
		conf.QueueDepth,
		func(ctx context.Context, r transaction.Request) (fraud.Evaluation, error) {
			defer metrics.QueueUtilization.Set(e.QueueUtilization())
			return e.eval.Evaluate(ctx, r)
		},
	)
	return e
}

// ProcessSync evaluates r on a worker and waits for the result.
// It returns ErrQueueFull without queueing when the queue is full, and
// ErrTimeout when the result does not arrive in time. A timed-out evaluation
// still completes in the background.
func (e *Engine) ProcessSync(ctx context.Context, r transaction.Request) (fraud.Evaluation, error) {
	resultC := make(chan jobResult[fraud.Evaluation], 1)

	// Evaluations run to completion even after the caller gives up.
	if !e.pool.Submit(context.WithoutCancel(ctx), r, resultC) {
		metrics.EvaluationsDropped.Inc()
		return fraud.Evaluation{}, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())
	}
	metrics.EvaluationsEnqueued.Inc()
	metrics.QueueUtilization.Set(e.QueueUtilization())

	var timeout <-chan time.Time
	if e.timeout > 0 {
		t := time.NewTimer(e.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-resultC:
		return res.value, res.err
	case <-timeout:
		logging.L(ctx).Warn("evaluation timed out", "account_id", r.AccountID, "timeout", e.timeout)
		return fraud.Evaluation{}, fmt.Errorf("%w after %v", ErrTimeout, e.timeout)
	case <-ctx.Done():
		return fraud.Evaluation{}, ctx.Err()
	}
}

// ProcessAsync enqueues r for background evaluation. Returns false if the queue is full.
func (e *Engine) ProcessAsync(ctx context.Context, r transaction.Request) bool {
	if !e.pool.Submit(context.WithoutCancel(ctx), r, nil) {
		metrics.EvaluationsDropped.Inc()
		return false
	}
	metrics.EvaluationsEnqueued.Inc()
	metrics.QueueUtilization.Set(e.QueueUtilization())
	return true
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// Shutdown stops accepting work and waits for queued evaluations to finish.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
