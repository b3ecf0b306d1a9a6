package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"spanlight/internal/adapter/client"
	"spanlight/internal/adapter/lookup"
	"spanlight/internal/adapter/tui/components"
	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
	"spanlight/internal/infra/httpclient"
	"spanlight/internal/infra/logger"
	"spanlight/internal/usecase/resolver"
)

type explainArgs struct {
	Span    string
	Context string
	JSON    bool
}

// parseExplainArgs reads [--context TEXT] [--json] SPAN... from args.
// --config is skipped; it is handled by configPath.
func parseExplainArgs(args []string) (explainArgs, error) {
	var out explainArgs
	var words []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case (arg == "--context" || arg == "--config") && i+1 < len(args):
			if arg == "--context" {
				out.Context = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--context="):
			out.Context = strings.TrimPrefix(arg, "--context=")
		case strings.HasPrefix(arg, "--config="):
		case arg == "--json":
			out.JSON = true
		default:
			words = append(words, arg)
		}
	}
	out.Span = strings.TrimSpace(strings.Join(words, " "))
	if out.Span == "" {
		return out, errors.New("usage: spanlight explain [--context TEXT] [--json] SPAN")
	}
	if out.Context == "" {
		out.Context = out.Span
	}
	return out, nil
}

func runExplain(args []string) error {
	parsed, err := parseExplainArgs(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, logCloser, err := openLogger(cfg, true)
	if err != nil {
		return err
	}
	defer logCloser()

	ctx, stop := signalContext()
	defer stop()

	sources, closeSources, err := buildLookupSources(cfg, nil, log)
	if err != nil {
		return err
	}
	defer closeSources()

	states := make(chan domain.PopoverState, 16)
	res := resolver.New(resolver.Options{
		Dictionary:       sources.Dictionary,
		Encyclopedia:     sources.Encyclopedia,
		Assistant:        sources.Assistant,
		ThrottleInterval: cfg.Client.ThrottleInterval,
		OnChange: func(s domain.PopoverState) {
			select {
			case states <- s:
			default:
			}
		},
		Logger: logger.Component(log, "resolver"),
	})
	defer res.Close()

	if err := res.Show(ctx, domain.LookupRequest{SpanText: parsed.Span, Context: parsed.Context}); err != nil {
		return err
	}

	final, err := awaitSettled(ctx, res, states)
	if err != nil {
		return err
	}
	return printLookup(final, parsed.JSON)
}

// awaitSettled waits until the active tab stops loading. A failure on the
// active tab is final because the resolver advances the cascade in the same
// state change that records it.
func awaitSettled(ctx context.Context, res *resolver.Resolver, states <-chan domain.PopoverState) (domain.PopoverState, error) {
	for {
		if s := res.State(); settled(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return domain.PopoverState{}, ctx.Err()
		case <-states:
		}
	}
}

func settled(s domain.PopoverState) bool {
	st := s.Source(s.ActiveTab)
	return s.Visible && !st.Loading && !st.Empty()
}

func printLookup(s domain.PopoverState, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	st := s.Source(s.ActiveTab)
	fmt.Printf("%s (%s)\n", s.Request.SpanText, components.SourceLabel(s.ActiveTab))
	if st.Err != "" {
		return errors.New(st.Err)
	}
	var md components.Markdown
	md.SetWidth(80)
	fmt.Println(md.Render(components.FormatSource(s.ActiveTab, st)))
	return nil
}

// lookupSources are the three cascade backends built from config.
type lookupSources struct {
	Dictionary   domain.DictionaryProvider
	Encyclopedia domain.EncyclopediaProvider
	Assistant    domain.AssistantSource
}

// buildLookupSources wires the dictionary and encyclopedia clients behind
// the configured cache and the relay-backed assistant. observer may be nil.
func buildLookupSources(cfg *config.Config, observer lookup.CacheObserver, log *slog.Logger) (lookupSources, func(), error) {
	cache, err := lookup.NewCache(cfg.Lookup.Cache)
	if err != nil {
		return lookupSources{}, nil, fmt.Errorf("lookup cache: %w", err)
	}
	closer := func() {
		if cache == nil {
			return
		}
		if err := cache.Close(); err != nil {
			log.Warn("lookup cache close failed", "error", err)
		}
	}

	httpc := httpclient.New(httpclient.Options{Total: cfg.Lookup.Timeout})
	lookupLog := logger.Component(log, "lookup")
	dict := lookup.NewDictionaryClient(cfg.Lookup.DictionaryURL, cfg.Lookup.UserAgent, httpc, lookupLog)
	enc := lookup.NewEncyclopediaClient(cfg.Lookup.EncyclopediaURL, cfg.Lookup.UserAgent, httpc, lookupLog)
	relayClient := client.NewRelayClient(cfg.Client.RelayURL, httpclient.New(httpclient.Options{}), logger.Component(log, "client"))

	return lookupSources{
		Dictionary:   lookup.NewCachedDictionary(dict, cache, observer, lookupLog),
		Encyclopedia: lookup.NewCachedEncyclopedia(enc, cache, observer, lookupLog),
		Assistant:    relayClient,
	}, closer, nil
}
