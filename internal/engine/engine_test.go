package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/fraudguard/internal/config"
	"github.com/gyaneshwarpardhi/fraudguard/internal/fraud"
	"github.com/gyaneshwarpardhi/fraudguard/internal/logging"
	"github.com/gyaneshwarpardhi/fraudguard/internal/transaction"
)

// gateEvaluator blocks every evaluation until release is closed.
type gateEvaluator struct {
	release chan struct{}
	calls   atomic.Int32
	lastReq atomic.Value
	err     error
}

func (g *gateEvaluator) Evaluate(ctx context.Context, r transaction.Request) (fraud.Evaluation, error) {
	if g.release != nil {
		<-g.release
	}
	g.calls.Add(1)
	g.lastReq.Store(logging.RequestID(ctx))
	if g.err != nil {
		return fraud.Evaluation{}, g.err
	}
	return fraud.Evaluation{TransactionID: r.AccountID + "_0", AccountID: r.AccountID}, nil
}

func req(account string) transaction.Request {
	return transaction.Request{AccountID: account, Amount: decimal.NewFromInt(100), DeviceID: "d1"}
}

func TestProcessSync_ReturnsResult(t *testing.T) {
	ev := &gateEvaluator{}
	e := New(context.Background(), ev, config.EngineConf{Workers: 2, QueueDepth: 4, TimeoutMs: 1000})
	defer e.Shutdown()

	ctx := logging.WithRequestID(context.Background(), "req-1")
	res, err := e.ProcessSync(ctx, req("u1"))
	require.NoError(t, err)
	assert.Equal(t, "u1_0", res.TransactionID)
	assert.Equal(t, "req-1", ev.lastReq.Load(), "request context values reach the worker")
}

func TestProcessSync_PropagatesErrors(t *testing.T) {
	ev := &gateEvaluator{err: fraud.ErrUnknownAccount}
	e := New(context.Background(), ev, config.EngineConf{Workers: 1, QueueDepth: 1, TimeoutMs: 1000})
	defer e.Shutdown()

	_, err := e.ProcessSync(context.Background(), req("ghost"))
	assert.ErrorIs(t, err, fraud.ErrUnknownAccount)
}

func TestProcessSync_QueueFull(t *testing.T) {
	ev := &gateEvaluator{release: make(chan struct{})}
	e := New(context.Background(), ev, config.EngineConf{Workers: 1, QueueDepth: 1, TimeoutMs: 50})

	// One job occupies the worker, one fills the queue.
	require.True(t, e.ProcessAsync(context.Background(), req("a")))
	require.Eventually(t, func() bool { return e.pool.QueueLen() == 0 }, time.Second, time.Millisecond)
	require.True(t, e.ProcessAsync(context.Background(), req("b")))
	assert.Equal(t, 1.0, e.QueueUtilization())

	_, err := e.ProcessSync(context.Background(), req("c"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, e.ProcessAsync(context.Background(), req("d")))

	close(ev.release)
	e.Shutdown()
	assert.Equal(t, int32(2), ev.calls.Load())
}

func TestProcessSync_Timeout(t *testing.T) {
	ev := &gateEvaluator{release: make(chan struct{})}
	e := New(context.Background(), ev, config.EngineConf{Workers: 1, QueueDepth: 2, TimeoutMs: 20})

	_, err := e.ProcessSync(context.Background(), req("slow"))
	assert.ErrorIs(t, err, ErrTimeout)

	close(ev.release)
	e.Shutdown()
	assert.Equal(t, int32(1), ev.calls.Load(), "timed-out evaluation still completes")
}

func TestProcessSync_CallerCancel(t *testing.T) {
	ev := &gateEvaluator{release: make(chan struct{})}
	e := New(context.Background(), ev, config.EngineConf{Workers: 1, QueueDepth: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.ProcessSync(ctx, req("u1"))
		done <- err
	}()
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	close(ev.release)
	e.Shutdown()
}

func TestQueueUtilization_Empty(t *testing.T) {
	e := New(context.Background(), &gateEvaluator{}, config.EngineConf{Workers: 1, QueueDepth: 10})
	defer e.Shutdown()
	assert.Zero(t, e.QueueUtilization())
}
