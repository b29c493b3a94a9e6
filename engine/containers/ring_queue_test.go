package containers

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueOrder(t *testing.T) {
	rq := NewRingQueue[int](3)
	assert.True(t, rq.IsEmpty())

	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	require.NoError(t, rq.Enqueue(3))
	assert.True(t, rq.IsFull())
	assert.True(t, errors.Is(rq.Enqueue(4), ErrQueueFull))

	v, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	for _, want := range []int{1, 2, 3} {
		got, err := rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = rq.Dequeue()
	assert.True(t, errors.Is(err, ErrQueueEmpty))
}

func TestRingQueueWrap(t *testing.T) {
	rq := NewRingQueue[string](2)
	for i := 0; i < 5; i++ {
		require.NoError(t, rq.Enqueue("a"))
		require.NoError(t, rq.Enqueue("b"))
		a, _ := rq.Dequeue()
		b, _ := rq.Dequeue()
		assert.Equal(t, "a", a)
		assert.Equal(t, "b", b)
		assert.Equal(t, 0, rq.Len())
	}
}
