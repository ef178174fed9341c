package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedWork(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Shutdown()

	var count int64
	for i := 0; i < 10; i++ {
		err := p.Submit(context.Background(), func(context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
		require.NoError(t, err)
	}
	p.Wait()

	assert.EqualValues(t, 10, atomic.LoadInt64(&count))
	m := p.Metrics()
	assert.EqualValues(t, 10, m.Completed)
	assert.EqualValues(t, 0, m.Failed)
}

func TestWorkerPool_CountsFailures(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}))
	p.Wait()

	assert.EqualValues(t, 1, p.Metrics().Failed)
}

func TestWorkerPool_RecoverPanic(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		panic("step exploded")
	}))
	p.Wait()

	m := p.Metrics()
	assert.EqualValues(t, 1, m.Panics)
	assert.EqualValues(t, 0, m.Active)
}

func TestWorkerPool_RejectsAfterShutdown(t *testing.T) {
	p := NewWorkerPool(1)
	p.Shutdown()

	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_SubmitRespectsContext(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Shutdown()

	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
	p.Wait()
}

func TestWorkerPool_MinimumSize(t *testing.T) {
	p := NewWorkerPool(0)
	defer p.Shutdown()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))
	p.Wait()
	assert.EqualValues(t, 1, p.Metrics().Completed)
}
