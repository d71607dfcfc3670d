package notion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool_Clamps(t *testing.T) {
	for limit, want := range map[int]int{-3: 1, 0: 1, 4: 4, MaxWorkers: MaxWorkers, 99: MaxWorkers} {
		assert.Equal(t, want, NewWorkerPool(limit).limit, "limit %d", limit)
	}
}

func TestWorkerPool_ErrorsStayWithTheirJob(t *testing.T) {
	slugs := []string{"about", "programme", "contact", "press"}
	notFound := errors.New("object_not_found")

	errs := NewWorkerPool(3).Run(context.Background(), len(slugs), func(_ context.Context, i int) error {
		if slugs[i] == "contact" {
			return notFound
		}
		return nil
	})

	require.Len(t, errs, len(slugs))
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.ErrorIs(t, errs[2], notFound)
	assert.NoError(t, errs[3])
}

func TestWorkerPool_RespectsLimit(t *testing.T) {
	pool := NewWorkerPool(2)

	var (
		mu      sync.Mutex
		started []int
	)
	pool.OnStart(func(i int) {
		mu.Lock()
		started = append(started, i)
		mu.Unlock()
	})

	var active, peak atomic.Int32
	pool.Run(context.Background(), 8, func(context.Context, int) error {
		n := active.Add(1)
		for p := peak.Load(); n > p && !peak.CompareAndSwap(p, n); p = peak.Load() {
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, started)
}

func TestWorkerPool_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	errs := NewWorkerPool(1).Run(ctx, 3, func(context.Context, int) error {
		ran.Add(1)
		return nil
	})

	assert.Zero(t, ran.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestWorkerPool_Empty(t *testing.T) {
	assert.Empty(t, NewWorkerPool(2).Run(context.Background(), 0, func(context.Context, int) error {
		t.Fatal("job called for empty run")
		return nil
	}))
}
