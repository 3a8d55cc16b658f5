package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/DoyleJ11/nightfall-backend/internal/analytics"
	"github.com/DoyleJ11/nightfall-backend/internal/config"
	"github.com/DoyleJ11/nightfall-backend/internal/httpapi"
	"github.com/DoyleJ11/nightfall-backend/internal/hub"
	"github.com/DoyleJ11/nightfall-backend/internal/llm"
	"github.com/DoyleJ11/nightfall-backend/internal/lobby"
	"github.com/DoyleJ11/nightfall-backend/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	addr := pflag.String("addr", "", "listen address (overrides NIGHTFALL_ADDR)")
	rules := pflag.String("rules", "", "YAML rules file applied on top of the environment")
	level := pflag.String("log-level", "", "debug, info, warn or error")
	dev := pflag.Bool("dev", false, "human-readable logs")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *level != "" {
		cfg.LogLevel = *level
	}
	cfg.DevLogging = cfg.DevLogging || *dev
	if *rules != "" {
		raw, err := os.ReadFile(*rules)
		if err != nil {
			return fmt.Errorf("read rules file: %w", err)
		}
		if err := cfg.ApplyRules(raw); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	log, err := logging.New(cfg.LogLevel, cfg.DevLogging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := lobby.Deps{AgentOptions: cfg.Agent, Log: log}
	if cfg.LLM.Endpoint != "" {
		deps.Generator = llm.NewHTTPClient(cfg.LLM.Endpoint, cfg.LLM.APIKey, cfg.LLM.Timeout, log)
		log.Info("agents use remote model", zap.String("endpoint", cfg.LLM.Endpoint), zap.String("model", cfg.LLM.Model))
	} else {
		deps.Generator = llm.NewBabbler(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), 300*time.Millisecond)
		log.Info("no model endpoint configured, agents babble")
	}

	if cfg.DatabaseURL != "" {
		rec, err := analytics.Open(cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warn("analytics close", zap.Error(err))
			}
		}()
		deps.Sink = rec
	}

	h := hub.NewHub(ctx, deps)
	defer func() {
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		default:
		}
	}()

	// Build the router *with* the hub injected
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, cfg.Game, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
