package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginSupersedesPrevious(t *testing.T) {
	s := NewSlot("popover")
	a := s.Begin(context.Background())
	require.True(t, a.Live())

	b := s.Begin(context.Background())
	assert.False(t, a.Live())
	assert.ErrorIs(t, a.Context().Err(), context.Canceled)
	assert.True(t, b.Live())
	assert.Same(t, b, s.Current())
	assert.Greater(t, b.Generation(), a.Generation())
}

func TestSlotCancelEmptiesSlot(t *testing.T) {
	s := NewSlot("chat")
	h := s.Begin(context.Background())
	s.Cancel()

	assert.False(t, h.Live())
	assert.Nil(t, s.Current())
	assert.ErrorIs(t, h.Context().Err(), context.Canceled)

	// Cancelling an empty slot is harmless.
	s.Cancel()
}

func TestHandleCancelOnlyClearsItself(t *testing.T) {
	s := NewSlot("chat")
	a := s.Begin(context.Background())
	b := s.Begin(context.Background())

	a.Cancel()
	assert.True(t, b.Live(), "cancelling a superseded handle must not touch the current one")

	b.Cancel()
	assert.Nil(t, s.Current())
}

func TestParentCancellationKillsHandle(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewSlot("x")
	h := s.Begin(parent)
	cancel()
	assert.False(t, h.Live())
}

func TestConcurrentBeginLeavesOneLive(t *testing.T) {
	s := NewSlot("x")
	handles := make([]*Handle, 50)

	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = s.Begin(context.Background())
		}(i)
	}
	wg.Wait()

	live := 0
	for _, h := range handles {
		if h.Live() {
			live++
			assert.Same(t, h, s.Current())
		}
	}
	assert.Equal(t, 1, live)
}
