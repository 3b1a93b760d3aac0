package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "info", Info.String())
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "info", Level(42).String())
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }

	q.Notify(Info, "first")
	q.Notify(Error, "second")
	assert.Equal(t, 2, q.Len())

	n, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "first", n.Message)
	assert.Equal(t, fixed, n.At)

	rest := q.Drain()
	require.Len(t, rest, 1)
	assert.Equal(t, Error, rest[0].Level)
	assert.Equal(t, 0, q.Len())

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_Concurrent(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Notify(Info, "x")
		}()
	}
	wg.Wait()
	assert.Len(t, q.Drain(), 50)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Notify(Error, "ignored") })
}
