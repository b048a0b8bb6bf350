package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	for _, no := range []string{"A", "B", "C"} {
		require.NoError(t, q.Push(ctx, LicenseEmail{OrderNo: no}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got.OrderNo)
	}
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, LicenseEmail{OrderNo: "A"}))
	assert.ErrorIs(t, q.Push(ctx, LicenseEmail{OrderNo: "B"}), ErrQueueFull)
}

func TestMemoryQueuePopHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Push(context.Background(), LicenseEmail{}), ErrQueueClosed)
}
