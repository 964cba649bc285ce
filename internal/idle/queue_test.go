package idle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsTasksInOrder(t *testing.T) {
	q := New(nil, nil)
	defer q.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		q.Enqueue(func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}

	require.NoError(t, q.Drain(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	assert.Equal(t, int64(10), q.Stats().Completed)
	assert.Equal(t, 0, q.Len())
}

func TestQueueReportsErrorsAndPanics(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	q := New(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}, nil)
	defer q.Close()

	q.Enqueue(func(ctx context.Context) error { return errors.New("save failed") })
	q.Enqueue(func(ctx context.Context) error { panic("boom") })
	q.Enqueue(func(ctx context.Context) error { return nil })

	require.NoError(t, q.Drain(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 2)
	assert.EqualError(t, errs[0], "save failed")
	assert.Contains(t, errs[1].Error(), "panicked")
	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestQueueDrainWaitsForNestedTasks(t *testing.T) {
	q := New(nil, nil)
	defer q.Close()

	var ran sync.WaitGroup
	ran.Add(2)
	q.Enqueue(func(ctx context.Context) error {
		defer ran.Done()
		q.Enqueue(func(ctx context.Context) error {
			ran.Done()
			return nil
		})
		return nil
	})

	require.NoError(t, q.Drain(context.Background()))
	ran.Wait()
	assert.Equal(t, int64(2), q.Stats().Completed)
}

func TestQueueDrainRespectsContext(t *testing.T) {
	q := New(nil, nil)
	defer q.Close()

	release := make(chan struct{})
	q.Enqueue(func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Drain(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, q.Drain(context.Background()))
}

func TestQueueCloseCancelsRunningTaskAndDropsRest(t *testing.T) {
	q := New(nil, nil)

	started := make(chan struct{})
	q.Enqueue(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	q.Enqueue(func(ctx context.Context) error { return nil })
	<-started

	q.Close()
	q.Enqueue(func(ctx context.Context) error { return nil })

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Equal(t, int64(1), stats.Failed)

	// closing twice is fine
	q.Close()
}
