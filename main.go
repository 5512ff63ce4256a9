package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleettrack/relay/internal/config"
	httpapi "fleettrack/relay/internal/http"
	"fleettrack/relay/internal/journal"
	"fleettrack/relay/internal/logging"
	"fleettrack/relay/internal/routing"
	"fleettrack/relay/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	rates, err := routing.LoadRateTable(cfg.Route.TollRatesPath)
	if err != nil {
		logger.Error("toll rate table rejected", logging.Error(err))
		os.Exit(1)
	}

	options := []RelayOption{WithRateTable(rates)}

	var journalWriter *journal.Writer
	if cfg.Journal.Dir != "" {
		journalWriter, err = journal.NewWriter(cfg.Journal.Dir, cfg.Journal.Compress, nil)
		if err != nil {
			logger.Error("journal setup failed", logging.Error(err))
			os.Exit(1)
		}
		defer func() { _ = journalWriter.Close() }()
		options = append(options, WithJournal(journalWriter))
	}

	if cfg.AuthToken != "" {
		authenticator, err := newStaticTokenAuthenticator(cfg.AuthToken)
		if err != nil {
			logger.Error("websocket auth setup failed", logging.Error(err))
			os.Exit(1)
		}
		options = append(options, WithWebsocketAuthenticator(authenticator))
	}

	relay := NewRelay(cfg, logger, options...)

	sweeperOpts := sweeper.Options{
		Drivers:      relay.Drivers(),
		Chats:        relay.Chats(),
		Notifier:     relay.Engine(),
		OfflineAfter: cfg.OfflineEvictAfter,
		ChatMaxAge:   cfg.Chat.MaxAge,
		Logger:       logger,
	}
	if journalWriter != nil {
		sweeperOpts.Journal = journalWriter
		sweeperOpts.JournalMaxAge = time.Duration(cfg.Journal.MaxAgeDays) * 24 * time.Hour
	}
	lifecycle := sweeper.New(sweeperOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go lifecycle.Run(ctx, cfg.SweepInterval)

	mux := http.NewServeMux()
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:       logger,
		Status:       relay,
		EngineStats:  relay.Engine().Stats,
		SweeperStats: lifecycle.Stats,
		Routes:       relay.Engine(),
		RateLimiter:  httpapi.NewSlidingWindowLimiter(cfg.Route.RequestWindow, cfg.Route.RequestBurst, nil),
	})
	handlers.Register(mux)
	mux.HandleFunc("/ws", relay.ServeWS)

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           logging.HTTPTraceMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		relay.Shutdown()
	}()

	tlsEnabled := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
	logger.Info("relay listening", logging.String("url", listenerURL(cfg.Address, tlsEnabled)))
	if tlsEnabled {
		err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", logging.Error(err))
		os.Exit(1)
	}
}
