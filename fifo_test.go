package raspa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFifoOrder(t *testing.T) {
	f := newSpscFifo[int](8)

	for i := 0; i < 8; i++ {
		require.True(t, f.push(i))
	}

	var v int
	for i := 0; i < 8; i++ {
		require.True(t, f.pop(&v))
		assert.Equal(t, i, v)
	}

	assert.False(t, f.pop(&v))
}

func TestFifoFullRejectsPush(t *testing.T) {
	f := newSpscFifo[int](4)

	for i := 0; i < 4; i++ {
		require.True(t, f.push(i))
	}

	assert.False(t, f.push(99))

	var v int
	require.True(t, f.pop(&v))
	assert.Equal(t, 0, v)

	// One slot freed, one push fits again.
	assert.True(t, f.push(99))
	assert.False(t, f.push(100))
}

func TestFifoWasEmpty(t *testing.T) {
	f := newSpscFifo[int](4)
	assert.True(t, f.wasEmpty())

	f.push(1)
	assert.False(t, f.wasEmpty())

	var v int
	f.pop(&v)
	assert.True(t, f.wasEmpty())
}

// Wrap the ring several times to exercise the index arithmetic.
func TestFifoWrapAround(t *testing.T) {
	f := newSpscFifo[int](3)

	var v int
	for i := 0; i < 100; i++ {
		require.True(t, f.push(i))
		require.True(t, f.pop(&v))
		assert.Equal(t, i, v)
	}
}

func TestFifoConcurrentProducerConsumer(t *testing.T) {
	const count = 100000

	f := newSpscFifo[int](64)
	done := make(chan struct{})

	go func() {
		defer close(done)

		var v int
		next := 0
		for next < count {
			if f.pop(&v) {
				assert.Equal(t, next, v)
				next++
			}
		}
	}()

	for i := 0; i < count; {
		if f.push(i) {
			i++
		}
	}

	<-done
}
