// Package resolver drives the lookup popover: it picks the first source for a
// span, falls back through dictionary, encyclopedia and assistant on failure,
// and caches each source's outcome for the lifetime of one lookup.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"spanlight/internal/domain"
	"spanlight/internal/infra/tracer"
	"spanlight/internal/usecase/lifecycle"
	"spanlight/internal/usecase/throttle"
)

// User-visible failure messages per source.
const (
	msgWordNotFound    = "Word not found in dictionary"
	msgArticleNotFound = "No encyclopedia article found"
	msgDictionaryFail  = "Dictionary lookup failed"
	msgArticleFail     = "Encyclopedia lookup failed"
	msgEmptyAnswer     = "No explanation returned"
)

// Metrics receives resolver events. All methods must be safe for concurrent use.
type Metrics interface {
	FetchStarted(src domain.Source)
	FetchFailed(src domain.Source)
	CascadeAdvanced(from, to domain.Source)
}

// Options configures a Resolver.
type Options struct {
	Dictionary   domain.DictionaryProvider
	Encyclopedia domain.EncyclopediaProvider
	Assistant    domain.AssistantSource

	Clock            throttle.Clock
	ThrottleInterval time.Duration
	DebounceDelay    time.Duration

	// OnChange receives a snapshot after every state change. Snapshots are
	// delivered in Version order; it must not call back into the Resolver's
	// mutating methods synchronously.
	OnChange func(domain.PopoverState)
	Metrics  Metrics
	Logger   *slog.Logger
}

// Resolver owns the popover state. The lookup slot guarantees that only the
// most recent lookup can mutate it.
type Resolver struct {
	opts     Options
	logger   *slog.Logger
	slot     *lifecycle.Slot
	debounce *throttle.Debouncer

	mu      sync.Mutex
	state   domain.PopoverState
	fetches map[domain.Source]int

	notifyMu sync.Mutex
	notified uint64
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = throttle.RealClock{}
	}
	return &Resolver{
		opts:     opts,
		logger:   logger,
		slot:     lifecycle.NewSlot("lookup"),
		debounce: throttle.NewDebouncer(opts.DebounceDelay, opts.Clock),
		state:    domain.NewPopoverState(),
		fetches:  make(map[domain.Source]int),
	}
}

// Show starts a new lookup for req, superseding any lookup in flight. All
// source states are reset before the first fetch is issued.
func (r *Resolver) Show(ctx context.Context, req domain.LookupRequest) error {
	valid, err := domain.NewLookupRequest(req.SpanText, req.Context, req.Position)
	if err != nil {
		return err
	}
	r.debounce.Cancel()

	r.mu.Lock()
	h := r.slot.Begin(ctx)
	version := r.state.Version
	r.state = domain.NewPopoverState()
	r.state.Version = version
	r.state.Visible = true
	r.state.Request = valid
	r.state.ActiveTab = domain.InitialSource(valid.SpanText)
	r.startFetchLocked(h, r.state.ActiveTab, true)
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.Debug("lookup started", "span", valid.SpanText, "source", snap.ActiveTab, "gen", h.Generation())
	r.notify(snap)
	return nil
}

// ShowDebounced calls Show once selections stop changing for the configured
// debounce delay. Only the last request in a burst is looked up.
func (r *Resolver) ShowDebounced(ctx context.Context, req domain.LookupRequest) {
	r.debounce.Trigger(func() {
		if err := r.Show(ctx, req); err != nil {
			r.logger.Debug("debounced lookup rejected", "error", err)
		}
	})
}

// Hide dismisses the popover: the lookup in flight is cancelled and every
// source state is cleared.
func (r *Resolver) Hide() {
	r.debounce.Cancel()

	r.mu.Lock()
	r.slot.Cancel()
	version := r.state.Version
	r.state = domain.NewPopoverState()
	r.state.Version = version
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
}

// SwitchTab makes src the active tab. A source that already holds data, is
// loading, or has failed is left alone; an untouched source is fetched on its
// own without continuing the cascade.
func (r *Resolver) SwitchTab(src domain.Source) error {
	if !src.Valid() {
		return domain.NewSubSystemError("lookup", "Resolver.SwitchTab", domain.ErrInvalidInput, string(src))
	}

	r.mu.Lock()
	if !r.state.Visible {
		r.mu.Unlock()
		return nil
	}
	r.state.ActiveTab = src
	if h := r.slot.Current(); h != nil && r.state.Source(src).Empty() {
		r.startFetchLocked(h, src, false)
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
	return nil
}

// State returns a snapshot of the popover.
func (r *Resolver) State() domain.PopoverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Fetches returns how many fetches have been issued for src since creation.
func (r *Resolver) Fetches(src domain.Source) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[src]
}

// Close cancels all pending work.
func (r *Resolver) Close() {
	r.debounce.Cancel()
	r.slot.Cancel()
}

func (r *Resolver) startFetchLocked(h *lifecycle.Handle, src domain.Source, cascade bool) {
	r.fetches[src]++
	r.state.Sources[src] = domain.SourceState{Loading: true}
	if r.opts.Metrics != nil {
		r.opts.Metrics.FetchStarted(src)
	}

	req := r.state.Request
	switch src {
	case domain.SourceDictionary:
		go r.fetchDictionary(h, req, cascade)
	case domain.SourceEncyclopedia:
		go r.fetchEncyclopedia(h, req, cascade)
	case domain.SourceAssistant:
		go r.fetchAssistant(h, req, cascade)
	}
}

func (r *Resolver) startSpan(h *lifecycle.Handle, src domain.Source) (context.Context, trace.Span) {
	return tracer.StartSpan(h.Context(), "lookup.fetch",
		trace.WithAttributes(tracer.StringAttr("lookup.source", string(src))),
	)
}

func (r *Resolver) fetchDictionary(h *lifecycle.Handle, req domain.LookupRequest, cascade bool) {
	ctx, span := r.startSpan(h, domain.SourceDictionary)
	defer span.End()

	if r.opts.Dictionary == nil {
		r.complete(h, domain.SourceDictionary, cascade, nil, domain.ErrProviderError)
		return
	}
	entries, err := r.opts.Dictionary.Define(ctx, domain.DictionaryKey(req.SpanText))
	if err == nil && len(entries) == 0 {
		err = domain.ErrNotFound
	}
	if err != nil && !domain.IsCancellation(err) {
		tracer.RecordError(span, err)
	}
	r.complete(h, domain.SourceDictionary, cascade, func(s *domain.SourceState) {
		s.Entries = entries
	}, err)
}

func (r *Resolver) fetchEncyclopedia(h *lifecycle.Handle, req domain.LookupRequest, cascade bool) {
	ctx, span := r.startSpan(h, domain.SourceEncyclopedia)
	defer span.End()

	if r.opts.Encyclopedia == nil {
		r.complete(h, domain.SourceEncyclopedia, cascade, nil, domain.ErrProviderError)
		return
	}
	summary, err := r.opts.Encyclopedia.Summarize(ctx, domain.EncyclopediaKey(req.SpanText))
	if err == nil && summary == nil {
		err = domain.ErrNotFound
	}
	if err != nil && !domain.IsCancellation(err) {
		tracer.RecordError(span, err)
	}
	r.complete(h, domain.SourceEncyclopedia, cascade, func(s *domain.SourceState) {
		s.Summary = summary
	}, err)
}

func (r *Resolver) fetchAssistant(h *lifecycle.Handle, req domain.LookupRequest, cascade bool) {
	ctx, span := r.startSpan(h, domain.SourceAssistant)
	defer span.End()

	if r.opts.Assistant == nil {
		r.complete(h, domain.SourceAssistant, cascade, nil, domain.ErrProviderError)
		return
	}
	events, err := r.opts.Assistant.Explain(ctx, req.SpanText, req.Context)
	if err != nil {
		r.complete(h, domain.SourceAssistant, cascade, nil, err)
		return
	}

	u := throttle.NewUpdater(r.opts.ThrottleInterval, r.opts.Clock, func(s throttle.Snapshot) {
		r.applyPartial(h, s.Text)
	})
	for ev := range events {
		switch ev.Kind {
		case domain.EventToken:
			u.Append(ev.Token)
		case domain.EventError:
			u.Finish()
			tracer.RecordError(span, errors.New(ev.Err))
			r.complete(h, domain.SourceAssistant, cascade, nil, errors.New(ev.Err))
			return
		case domain.EventDone:
			// The channel closes right after a terminal event.
		}
	}

	if !h.Live() {
		u.Stop()
		return
	}
	text := u.Finish()
	if text == "" {
		r.complete(h, domain.SourceAssistant, cascade, nil, errors.New(msgEmptyAnswer))
		return
	}
	tracer.SetOK(span)
	r.complete(h, domain.SourceAssistant, cascade, func(s *domain.SourceState) {
		s.Text = text
	}, nil)
}

// applyPartial publishes streamed assistant text while the fetch is loading.
func (r *Resolver) applyPartial(h *lifecycle.Handle, text string) {
	r.mu.Lock()
	if !h.Live() {
		r.mu.Unlock()
		return
	}
	r.state.Sources[domain.SourceAssistant] = domain.SourceState{Text: text, Loading: true}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
}

// complete applies the outcome of a fetch if its lookup is still current.
func (r *Resolver) complete(h *lifecycle.Handle, src domain.Source, cascade bool, apply func(*domain.SourceState), err error) {
	r.mu.Lock()
	if !h.Live() || domain.IsCancellation(err) {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.logger.Debug("lookup source failed", "source", src, "error", err)
		r.failLocked(h, src, cascade, err)
	} else {
		var st domain.SourceState
		if apply != nil {
			apply(&st)
		}
		r.state.Sources[src] = st
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.notify(snap)
}

// failLocked records the failure and, for cascade fetches of the active
// tab, advances to the next source that has not been tried yet.
func (r *Resolver) failLocked(h *lifecycle.Handle, src domain.Source, cascade bool, err error) {
	r.state.Sources[src] = domain.SourceState{Err: failureMessage(src, err)}
	if r.opts.Metrics != nil {
		r.opts.Metrics.FetchFailed(src)
	}
	if !cascade || r.state.ActiveTab != src {
		return
	}

	from := src
	for {
		next, ok := from.Next()
		if !ok {
			return
		}
		r.state.ActiveTab = next
		if r.opts.Metrics != nil {
			r.opts.Metrics.CascadeAdvanced(from, next)
		}
		st := r.state.Source(next)
		if st.Empty() {
			r.startFetchLocked(h, next, true)
			return
		}
		if st.Err == "" {
			// Already loading or holding data from a manual switch.
			return
		}
		from = next
	}
}

func failureMessage(src domain.Source, err error) string {
	notFound := errors.Is(err, domain.ErrNotFound)
	switch src {
	case domain.SourceDictionary:
		if notFound {
			return msgWordNotFound
		}
		return msgDictionaryFail
	case domain.SourceEncyclopedia:
		if notFound {
			return msgArticleNotFound
		}
		return msgArticleFail
	}
	return err.Error()
}

func (r *Resolver) snapshotLocked() domain.PopoverState {
	r.state.Version++
	return r.state.Clone()
}

func (r *Resolver) notify(snap domain.PopoverState) {
	if r.opts.OnChange == nil {
		return
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if snap.Version <= r.notified {
		return
	}
	r.notified = snap.Version
	r.opts.OnChange(snap)
}
