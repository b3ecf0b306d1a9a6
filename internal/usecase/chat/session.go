// Package chat holds the conversation use cases: a Session streams one turn
// at a time from the relay, and a Manager keeps the list of named chats.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"spanlight/internal/domain"
	"spanlight/internal/infra/tracer"
	"spanlight/internal/usecase/lifecycle"
	"spanlight/internal/usecase/throttle"
)

// SessionState is an observable snapshot of a Session.
type SessionState struct {
	Messages []domain.Message
	Loading  bool
	Err      string
	Version  uint64
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Streamer         domain.ChatStreamer
	Clock            throttle.Clock
	ThrottleInterval time.Duration

	// OnChange receives snapshots in Version order. It must not call back
	// into the Session's mutating methods synchronously.
	OnChange func(SessionState)
	Logger   *slog.Logger
}

// Session is one conversation's message list plus its chat-send slot.
// Sending a message supersedes the turn in flight.
type Session struct {
	opts   SessionOptions
	logger *slog.Logger
	slot   *lifecycle.Slot

	mu       sync.Mutex
	messages []domain.Message
	loading  bool
	err      string
	version  uint64

	notifyMu sync.Mutex
	notified uint64
}

// NewSession creates a Session.
func NewSession(opts SessionOptions) *Session {
	if opts.Clock == nil {
		opts.Clock = throttle.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{opts: opts, logger: logger, slot: lifecycle.NewSlot("chat")}
}

// Send appends the user message and an empty assistant placeholder, then
// streams the reply into the placeholder. It blocks until the turn ends and
// returns the turn's failure, if any. A superseded or aborted turn returns
// nil. Blank text aborts the turn in flight instead of sending.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		s.Abort()
		return nil
	}

	now := s.opts.Clock.Now()
	user := domain.NewMessage(domain.SenderUser, text, now)
	reply := domain.NewMessage(domain.SenderAssistant, "", now)

	s.mu.Lock()
	h := s.slot.Begin(ctx)
	s.messages = append(s.messages, user, reply)
	s.loading = true
	s.err = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return s.run(h, reply.ID, text)
}

func (s *Session) run(h *lifecycle.Handle, replyID, text string) error {
	ctx, span := tracer.StartSpan(h.Context(), "chat.turn")
	defer span.End()

	if s.opts.Streamer == nil {
		return s.fail(h, replyID, domain.ErrProviderError)
	}
	events, err := s.opts.Streamer.StreamChat(ctx, text)
	if err != nil {
		return s.fail(h, replyID, err)
	}

	u := throttle.NewUpdater(s.opts.ThrottleInterval, s.opts.Clock, func(snap throttle.Snapshot) {
		s.setReply(h, replyID, snap.Text)
	})
	for ev := range events {
		switch ev.Kind {
		case domain.EventToken:
			u.Append(ev.Token)
		case domain.EventError:
			u.Finish()
			err := errors.New(ev.Err)
			tracer.RecordError(span, err)
			return s.fail(h, replyID, err)
		case domain.EventDone:
		}
	}

	if !h.Live() {
		u.Stop()
		return nil
	}
	u.Finish()
	s.complete(h)
	tracer.SetOK(span)
	return nil
}

func (s *Session) setReply(h *lifecycle.Handle, replyID, text string) {
	s.mu.Lock()
	if !h.Live() {
		s.mu.Unlock()
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == replyID {
			s.messages[i].Text = text
			break
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Session) complete(h *lifecycle.Handle) {
	s.mu.Lock()
	if !h.Live() {
		s.mu.Unlock()
		return
	}
	s.loading = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	h.Cancel()
	s.notify(snap)
}

// fail removes the placeholder and records a user-visible error, unless the
// turn was cancelled.
func (s *Session) fail(h *lifecycle.Handle, replyID string, err error) error {
	s.mu.Lock()
	if !h.Live() || domain.IsCancellation(err) {
		s.mu.Unlock()
		return nil
	}
	s.removeLocked(replyID)
	s.loading = false
	s.err = err.Error()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Warn("chat turn failed", "error", err)
	h.Cancel()
	s.notify(snap)
	return domain.WrapOp("chat.send", err)
}

// Abort cancels the turn in flight. An assistant placeholder that received
// no text is removed; partial text is kept as is.
func (s *Session) Abort() {
	s.mu.Lock()
	s.slot.Cancel()
	if s.loading {
		if n := len(s.messages); n > 0 {
			last := s.messages[n-1]
			if last.Sender == domain.SenderAssistant && last.Text == "" {
				s.messages = s.messages[:n-1]
			}
		}
	}
	s.loading = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// ClearError dismisses the last error.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.err = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// Reset cancels any turn and empties the conversation.
func (s *Session) Reset() {
	s.Load(nil)
}

// Load cancels any turn and replaces the conversation with messages.
func (s *Session) Load(messages []domain.Message) {
	s.mu.Lock()
	s.slot.Cancel()
	s.messages = append([]domain.Message(nil), messages...)
	s.loading = false
	s.err = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// State returns a snapshot of the session.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Messages returns a copy of the message list.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

func (s *Session) removeLocked(id string) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Session) stateLocked() SessionState {
	return SessionState{
		Messages: append([]domain.Message(nil), s.messages...),
		Loading:  s.loading,
		Err:      s.err,
		Version:  s.version,
	}
}

func (s *Session) snapshotLocked() SessionState {
	s.version++
	return s.stateLocked()
}

func (s *Session) notify(snap SessionState) {
	if s.opts.OnChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Version <= s.notified {
		return
	}
	s.notified = snap.Version
	s.opts.OnChange(snap)
}
