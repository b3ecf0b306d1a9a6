package main

import (
	"spanlight/internal/adapter/client"
	"spanlight/internal/adapter/lookup"
	tuichat "spanlight/internal/adapter/tui/chat"
	"spanlight/internal/infra/httpclient"
	"spanlight/internal/infra/logger"
	"spanlight/internal/infra/metrics"
	"spanlight/internal/usecase/resolver"
)

func runTUI() error {
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

	chats, closeHistory, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeHistory()

	var (
		cacheObserver lookup.CacheObserver
		lookupMetrics resolver.Metrics
	)
	if cfg.Metrics.Enabled && cfg.Metrics.ClientAddr != "" {
		m := metrics.New()
		cacheObserver, lookupMetrics = m, m
		stopMetrics := serveMetrics(cfg.Metrics.ClientAddr, cfg.Metrics.Path, m, log)
		defer stopMetrics()
	}

	sources, closeSources, err := buildLookupSources(cfg, cacheObserver, log)
	if err != nil {
		return err
	}
	defer closeSources()

	relayClient := client.NewRelayClient(cfg.Client.RelayURL, httpclient.New(httpclient.Options{}), logger.Component(log, "client"))

	return tuichat.Run(ctx, tuichat.Options{
		Streamer:         relayClient,
		Dictionary:       sources.Dictionary,
		Encyclopedia:     sources.Encyclopedia,
		Assistant:        sources.Assistant,
		Chats:            chats,
		Metrics:          lookupMetrics,
		ThrottleInterval: cfg.Client.ThrottleInterval,
		DebounceDelay:    cfg.Client.DebounceDelay,
		RelayURL:         cfg.Client.RelayURL,
		Logger:           logger.Component(log, "tui"),
	})
}
