package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"

	"spanlight/internal/adapter/client"
	"spanlight/internal/adapter/tui/uxerror"
	"spanlight/internal/domain"
	"spanlight/internal/infra/httpclient"
	"spanlight/internal/infra/logger"
	chatuc "spanlight/internal/usecase/chat"
)

func runChat() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, logCloser, err := openLogger(cfg, true)
	if err != nil {
		return err
	}
	defer logCloser()

	// SIGINT is not part of ctx: at the prompt liner reads Ctrl+C as a key,
	// and during a turn it only cancels that turn.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	relayClient := client.NewRelayClient(cfg.Client.RelayURL, httpclient.New(httpclient.Options{}), logger.Component(log, "client"))
	if err := relayClient.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: relay at %s is not reachable (%v)\n", cfg.Client.RelayURL, err)
	}

	chats, closeHistory, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeHistory()
	if _, err := chats.CreateNewChat(ctx); err != nil {
		log.Warn("chat history unavailable", "error", err)
	}

	printer := &replyPrinter{out: os.Stdout}
	session := chatuc.NewSession(chatuc.SessionOptions{
		Streamer:         relayClient,
		ThrottleInterval: cfg.Client.ThrottleInterval,
		OnChange:         printer.Update,
		Logger:           logger.Component(log, "session"),
	})
	defer session.Abort()

	prompt := newLinePrompt()
	defer prompt.Close()

	fmt.Println("spanlight chat. Ctrl+C cancels a reply; /quit or Ctrl+D exits.")
	for ctx.Err() == nil {
		input, err := prompt.Read("> ")
		if err != nil {
			// liner.ErrPromptAborted (Ctrl+C) or io.EOF (Ctrl+D)
			fmt.Println()
			return nil
		}

		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		turnCtx, cancel := context.WithCancel(ctx)
		drain(interrupts)
		go func() {
			select {
			case <-interrupts:
				cancel()
			case <-turnCtx.Done():
			}
		}()

		printer.Begin()
		err = session.Send(turnCtx, input)
		interrupted := turnCtx.Err() != nil && ctx.Err() == nil
		cancel()
		printer.End()

		switch {
		case err != nil:
			fmt.Fprintln(os.Stderr, uxerror.Humanize(err).Render())
			session.ClearError()
		case interrupted:
			fmt.Fprintln(os.Stderr, "[cancelled]")
		}
		if _, err := chats.SaveChat(ctx, session.Messages()); err != nil {
			log.Warn("chat not saved", "error", err)
		}
	}
	return nil
}

func drain(ch <-chan os.Signal) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// linePrompt reads input with line editing and a history file kept next to
// the user's other spanlight state.
type linePrompt struct {
	line        *liner.State
	historyFile string
}

func newLinePrompt() *linePrompt {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	p := &linePrompt{line: line}
	if dir, err := os.UserConfigDir(); err == nil {
		p.historyFile = filepath.Join(dir, "spanlight", "chat_history")
		if f, err := os.Open(p.historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	return p
}

// Read prompts for one line and records it in the history. The result is
// trimmed.
func (p *linePrompt) Read(prompt string) (string, error) {
	input, err := p.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	input = strings.TrimSpace(input)
	if input != "" {
		p.line.AppendHistory(input)
	}
	return input, nil
}

// Close writes the history file with owner-only permissions and restores
// the terminal.
func (p *linePrompt) Close() {
	defer p.line.Close()
	if p.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.historyFile), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(p.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	p.line.WriteHistory(f)
}

// replyPrinter writes the growing assistant reply of each turn to out,
// printing only the suffix that has not been written yet.
type replyPrinter struct {
	out io.Writer

	mu      sync.Mutex
	replyID string
	printed int
	version uint64
}

// Begin starts a new turn.
func (p *replyPrinter) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyID = ""
	p.printed = 0
}

// End terminates the reply line, if anything was printed.
func (p *replyPrinter) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed > 0 {
		fmt.Fprintln(p.out)
	}
}

// Update receives session snapshots.
func (p *replyPrinter) Update(s chatuc.SessionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Version <= p.version {
		return
	}
	p.version = s.Version

	if len(s.Messages) == 0 {
		return
	}
	last := s.Messages[len(s.Messages)-1]
	if last.Sender != domain.SenderAssistant {
		return
	}
	if last.ID != p.replyID {
		p.replyID = last.ID
		p.printed = 0
	}
	if len(last.Text) > p.printed {
		fmt.Fprint(p.out, last.Text[p.printed:])
		p.printed = len(last.Text)
	}
}
