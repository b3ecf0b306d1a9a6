package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"spanlight/internal/domain"
	chatuc "spanlight/internal/usecase/chat"
	"spanlight/internal/usecase/resolver"
)

// Options configures Run.
type Options struct {
	Streamer     domain.ChatStreamer
	Dictionary   domain.DictionaryProvider
	Encyclopedia domain.EncyclopediaProvider
	Assistant    domain.AssistantSource

	// Chats persists the transcript. Nil disables history.
	Chats            *chatuc.Manager
	Metrics          resolver.Metrics
	ThrottleInterval time.Duration
	DebounceDelay    time.Duration
	RelayURL         string
	Logger           *slog.Logger

	// ProgramOptions are appended to the defaults (alt screen, mouse).
	ProgramOptions []tea.ProgramOption
}

// Run builds the session and resolver, restores the most recent chat and
// blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Snapshots are sent from goroutines: Session and Resolver notify
	// synchronously, and some of their calls originate inside Update, which
	// must not block on the program's message channel. Models drop stale
	// versions, so delivery order does not matter.
	var program *tea.Program
	send := func(msg tea.Msg) { go program.Send(msg) }

	session := chatuc.NewSession(chatuc.SessionOptions{
		Streamer:         opts.Streamer,
		ThrottleInterval: opts.ThrottleInterval,
		OnChange:         func(s chatuc.SessionState) { send(SessionMsg{State: s}) },
		Logger:           logger,
	})
	res := resolver.New(resolver.Options{
		Dictionary:       opts.Dictionary,
		Encyclopedia:     opts.Encyclopedia,
		Assistant:        opts.Assistant,
		ThrottleInterval: opts.ThrottleInterval,
		DebounceDelay:    opts.DebounceDelay,
		OnChange:         func(s domain.PopoverState) { send(PopoverMsg{State: s}) },
		Metrics:          opts.Metrics,
		Logger:           logger,
	})
	defer res.Close()
	defer session.Abort()

	if opts.Chats != nil {
		if err := opts.Chats.Restore(ctx); err != nil {
			logger.Warn("chat history unavailable", "error", err)
		}
	}

	model := NewModel(Deps{
		Context:  ctx,
		Session:  session,
		Resolver: res,
		Chats:    opts.Chats,
		RelayURL: opts.RelayURL,
		Logger:   logger,
	})
	program = tea.NewProgram(model, append([]tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	}, opts.ProgramOptions...)...)

	if opts.Chats != nil {
		if active, ok := opts.Chats.Active(); ok {
			session.Load(active.Messages)
		}
	}

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
