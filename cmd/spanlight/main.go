package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spanlight/internal/adapter/store"
	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
	"spanlight/internal/infra/logger"
	"spanlight/internal/infra/metrics"
	chatuc "spanlight/internal/usecase/chat"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	case "serve":
		err = runServe()
	case "chat":
		err = runChat()
	case "explain":
		err = runExplain(os.Args[2:])
	case "tui":
		err = runTUI()
	case "doctor":
		err = runDoctor()
	case "encrypt":
		err = runEncrypt(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'spanlight --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`spanlight - streaming chat relay with span lookups

USAGE:
    spanlight COMMAND [FLAGS]

COMMANDS:
    serve       Run the stream relay (POST /api/chat, POST /api/explain)
    chat        Chat with the relay from the terminal, one line per message
    explain     Look up a span: dictionary, then encyclopedia, then assistant
                Flags: --context TEXT, --json
    tui         Full-screen chat with a lookup pane
    doctor      Check config, keys and connectivity
    encrypt     Encrypt a secret for config.yaml (reads SPANLIGHT_CONFIG_KEY)

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml (optional; defaults apply when missing)
    Environment: SPANLIGHT_* variables override config, as do PORT,
                 XAI_API_KEY and ANTHROPIC_API_KEY

EXAMPLES:
    XAI_API_KEY=... spanlight serve
    spanlight explain recursion
    spanlight explain --context "the compiler emits a tail call" "tail call"
    spanlight tui`)
}

// configPath resolves --config, then SPANLIGHT_CONFIG, then ./config.yaml.
func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SPANLIGHT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openLogger builds the configured logger. Interactive commands pass quiet
// so that a stderr logger does not draw over the terminal.
func openLogger(cfg *config.Config, quiet bool) (*slog.Logger, func() error, error) {
	if quiet && (cfg.Logger.Output == "" || cfg.Logger.Output == "stderr" || cfg.Logger.Output == "stdout") {
		return logger.Discard(), func() error { return nil }, nil
	}
	log, closer, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return log, closer, nil
}

// openHistory opens the chat store behind a Manager and starts the retention
// pruner when one is configured. The returned closer stops both.
func openHistory(ctx context.Context, cfg *config.Config, log *slog.Logger) (*chatuc.Manager, func(), error) {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("store: %w", err)
	}
	closeStore := func() {
		if err := st.Close(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}

	pruner, err := startPruner(ctx, st, cfg.Store, log)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	mgr := chatuc.NewManager(st, cfg.Client.ChatNameLimit, logger.Component(log, "chats"))
	return mgr, func() {
		if pruner != nil {
			pruner.Stop()
		}
		closeStore()
	}, nil
}

// startPruner runs one pass immediately and then follows the schedule. It
// returns nil when retention is disabled.
func startPruner(ctx context.Context, st domain.ChatStore, cfg config.StoreConfig, log *slog.Logger) (*store.Pruner, error) {
	if cfg.Retention <= 0 {
		return nil, nil
	}
	pruner, err := store.NewPruner(st, cfg.Retention, cfg.PruneSchedule, logger.Component(log, "pruner"))
	if err != nil {
		return nil, err
	}
	if _, err := pruner.Prune(ctx); err != nil {
		log.Warn("initial prune failed", "error", err)
	}
	pruner.Start(ctx)
	return pruner, nil
}

// serveMetrics exposes m on addr until the returned stop function is called.
func serveMetrics(addr, path string, m *metrics.Metrics, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics listener failed", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
