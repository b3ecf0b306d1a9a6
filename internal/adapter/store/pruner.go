package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"spanlight/internal/domain"
)

// Pruner deletes chats older than a retention window on a cron schedule.
type Pruner struct {
	store     domain.ChatStore
	retention time.Duration
	schedule  cron.Schedule
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPruner parses spec as a standard five-field cron expression or a
// descriptor such as "@daily".
func NewPruner(store domain.ChatStore, retention time.Duration, spec string, logger *slog.Logger) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("pruner: retention must be positive")
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("pruner: invalid schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:     store,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// Prune runs one pass and returns the number of chats removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneChats(ctx, cutoff)
	if err != nil {
		return 0, domain.WrapOp("store.prune", err)
	}
	if n > 0 {
		p.logger.Info("chats pruned", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Start schedules pruning until ctx is done or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cron = cron.New()
	p.cron.Schedule(p.schedule, cron.FuncJob(p.run))
	p.cron.Start()
	p.logger.Debug("chat pruner started", "retention", p.retention)

	go func() {
		<-p.ctx.Done()
		p.Stop()
	}()
}

// Stop halts the schedule and waits for a running pass to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

// Next reports when the schedule fires after t.
func (p *Pruner) Next(t time.Time) time.Time {
	return p.schedule.Next(t)
}

func (p *Pruner) run() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := p.Prune(taskCtx); err != nil {
		p.logger.Warn("chat prune failed", "error", err)
	}
}
