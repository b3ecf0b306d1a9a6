package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"spanlight/internal/adapter/llm"
	"spanlight/internal/adapter/relay"
	"spanlight/internal/adapter/store"
	"spanlight/internal/infra/logger"
	"spanlight/internal/infra/metrics"
	"spanlight/internal/infra/tracer"
)

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, logCloser, err := openLogger(cfg, false)
	if err != nil {
		return err
	}
	defer logCloser()

	ctx, stop := signalContext()
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	streamer, err := llm.NewStreamer(cfg.LLM, logger.Component(log, "llm"))
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	opts := relay.Options{
		Server:   cfg.Server,
		Chat:     cfg.LLM.Chat,
		Explain:  cfg.LLM.Explain,
		Streamer: streamer,
		Logger:   logger.Component(log, "relay"),
	}
	if cfg.Metrics.Enabled {
		m := metrics.New()
		opts.Observer = m
		opts.MetricsPath = cfg.Metrics.Path
		opts.MetricsHandler = m.Handler()
	}
	srv, err := relay.NewServer(opts)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })

	// A sqlite history file is shared with local clients; the relay keeps it
	// trimmed while it runs.
	if cfg.Store.Retention > 0 && cfg.Store.Driver == "sqlite" {
		st, err := store.Open(cfg.Store)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("store: %w", err)
		}
		defer st.Close()

		g.Go(func() error {
			pruner, err := startPruner(gctx, st, cfg.Store, log)
			if err != nil {
				return err
			}
			<-gctx.Done()
			pruner.Stop()
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-srv.Ready():
			log.Info("spanlight relay ready", "addr", srv.BoundAddr(), "provider", streamer.Name())
		case <-gctx.Done():
		}
		return nil
	})

	return g.Wait()
}
