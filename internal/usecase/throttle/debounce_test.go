package throttle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerRunsLastAction(t *testing.T) {
	clock := NewManualClock(epoch)
	d := NewDebouncer(300*time.Millisecond, clock)

	var got atomic.Value
	d.Trigger(func() { got.Store("first") })
	clock.Advance(200 * time.Millisecond)
	d.Trigger(func() { got.Store("second") })
	clock.Advance(200 * time.Millisecond)
	assert.Nil(t, got.Load(), "timer re-armed on each trigger")
	assert.True(t, d.Pending())

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, "second", got.Load())
	assert.False(t, d.Pending())
}

func TestDebouncerCancel(t *testing.T) {
	clock := NewManualClock(epoch)
	d := NewDebouncer(100*time.Millisecond, clock)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Cancel()
	clock.Advance(time.Second)
	assert.Zero(t, calls.Load())
}

func TestManualClockFiresInOrder(t *testing.T) {
	clock := NewManualClock(epoch)
	var order []int
	clock.AfterFunc(30*time.Millisecond, func() { order = append(order, 3) })
	clock.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })
	stopped := clock.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	clock.Advance(50 * time.Millisecond)
	assert.Equal(t, []int{1, 3}, order)
	assert.Equal(t, epoch.Add(50*time.Millisecond), clock.Now())
}
