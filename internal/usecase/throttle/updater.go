package throttle

import (
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between intermediate snapshots.
const DefaultInterval = 100 * time.Millisecond

// Snapshot is the accumulated text handed to the UI.
type Snapshot struct {
	Text  string
	Final bool
}

// Updater accumulates streamed tokens and emits snapshots of the full text.
//
// A token arriving when nothing was emitted within the last interval is
// emitted immediately. Otherwise one deferred emission is scheduled for the
// end of the interval and later tokens coalesce into it. Finish always emits
// the complete text, even if an identical snapshot was just delivered.
// Snapshots are delivered in order, so each one is a prefix of the next and
// the final snapshot is the last delivered.
//
// emit runs without the Updater's internal lock held. Callers must not hold
// any lock that emit acquires while calling Append or Finish.
type Updater struct {
	clock    Clock
	interval time.Duration
	emit     func(Snapshot)

	mu       sync.Mutex
	text     strings.Builder
	lastEmit time.Time
	emitted  bool
	pending  Timer
	finished bool
	seq      uint64
	emits    int

	emitMu    sync.Mutex
	delivered uint64
}

// NewUpdater creates an Updater. A nil clock means the wall clock and a
// non-positive interval means DefaultInterval.
func NewUpdater(interval time.Duration, clock Clock, emit func(Snapshot)) *Updater {
	if clock == nil {
		clock = RealClock{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Updater{clock: clock, interval: interval, emit: emit}
}

// Append adds a token. It is ignored after Finish or Stop.
func (u *Updater) Append(token string) {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.text.WriteString(token)

	now := u.clock.Now()
	if !u.emitted || now.Sub(u.lastEmit) >= u.interval {
		u.stopPendingLocked()
		snap, seq := u.snapshotLocked(now, false)
		u.mu.Unlock()
		u.deliver(snap, seq)
		return
	}
	if u.pending == nil {
		wait := u.interval - now.Sub(u.lastEmit)
		u.pending = u.clock.AfterFunc(wait, u.fire)
	}
	u.mu.Unlock()
}

// Finish emits the complete text as the final snapshot and returns it.
// Calling Finish again returns the text without emitting.
func (u *Updater) Finish() string {
	u.mu.Lock()
	if u.finished {
		text := u.text.String()
		u.mu.Unlock()
		return text
	}
	u.finished = true
	u.stopPendingLocked()
	snap, seq := u.snapshotLocked(u.clock.Now(), true)
	u.mu.Unlock()

	u.deliver(snap, seq)
	return snap.Text
}

// Stop abandons the updater without a final emission. Used when the
// operation was cancelled and its results must not reach the UI.
func (u *Updater) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finished = true
	u.stopPendingLocked()
}

// Text returns the text accumulated so far.
func (u *Updater) Text() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.text.String()
}

// Emits returns how many snapshots have been produced.
func (u *Updater) Emits() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.emits
}

func (u *Updater) fire() {
	u.mu.Lock()
	if u.finished || u.pending == nil {
		u.mu.Unlock()
		return
	}
	u.pending = nil
	snap, seq := u.snapshotLocked(u.clock.Now(), false)
	u.mu.Unlock()

	u.deliver(snap, seq)
}

func (u *Updater) stopPendingLocked() {
	if u.pending != nil {
		u.pending.Stop()
		u.pending = nil
	}
}

func (u *Updater) snapshotLocked(now time.Time, final bool) (Snapshot, uint64) {
	u.lastEmit = now
	u.emitted = true
	u.seq++
	u.emits++
	return Snapshot{Text: u.text.String(), Final: final}, u.seq
}

// deliver hands snap to emit unless a later snapshot already went out.
func (u *Updater) deliver(snap Snapshot, seq uint64) {
	u.emitMu.Lock()
	defer u.emitMu.Unlock()
	if seq <= u.delivered {
		return
	}
	u.delivered = seq
	if u.emit != nil {
		u.emit(snap)
	}
}
