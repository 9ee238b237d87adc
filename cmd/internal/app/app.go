// Package app wires the Ripple server runtime: config, logging, HTTP routes,
// the websocket edge, and the Redis-backed store and relay.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"ripple/cmd/internal/bus"
	"ripple/cmd/internal/friends"
	"ripple/cmd/internal/messaging"
	"ripple/cmd/internal/realtime"
	"ripple/cmd/internal/store"
	"ripple/cmd/internal/suggest"
)

// App is the Ripple server runtime: it owns HTTP server wiring and the
// lifecycle of the store, the relay, and the websocket hub.
type App struct {
	cfg Config
	log Logger

	rdb          *redis.Client
	redisEnabled bool

	msgStore store.MessageStore
	relay    bus.Bus
	hub      *realtime.Hub

	ws  *realtime.Gateway
	api *API
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	rdb, redisEnabled, msgStore, relay, friendStore, err := newBackends(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	closeBackends := func() {
		_ = relay.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
	}

	ingest, err := messaging.NewIngestService(log, msgStore, relay)
	if err != nil {
		closeBackends()
		return nil, err
	}
	seen, err := messaging.NewSeenService(log, msgStore, relay)
	if err != nil {
		closeBackends()
		return nil, err
	}
	friendSvc, err := friends.NewService(log, friendStore, relay)
	if err != nil {
		closeBackends()
		return nil, err
	}

	var suggestSvc *suggest.Service
	if cfg.MistralAPIKey != "" {
		client := suggest.NewMistralClient(cfg.MistralAPIKey, cfg.MistralAPIBase)
		suggestSvc, err = suggest.NewService(log, msgStore, client)
		if err != nil {
			closeBackends()
			return nil, err
		}
	} else {
		log.Info("suggest.disabled.no_api_key")
	}

	sessions := HeaderSessionResolver{Header: cfg.SessionHeader}

	hub := realtime.NewHub(log, relay)
	ws, err := realtime.NewGateway(log, hub, sessions)
	if err != nil {
		closeBackends()
		return nil, err
	}

	api, err := NewAPI(log, sessions, ingest, seen, suggestSvc, friendSvc)
	if err != nil {
		closeBackends()
		return nil, err
	}

	return &App{
		cfg:          cfg,
		log:          log,
		rdb:          rdb,
		redisEnabled: redisEnabled,
		msgStore:     msgStore,
		relay:        relay,
		hub:          hub,
		ws:           ws,
		api:          api,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.rdb, a.redisEnabled, a.ws, a.api)

	var handler http.Handler = WithSecurityHeaders(mux)
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		handler = WithCORS(handler, a.cfg, a.log)
	}
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "redis_enabled", a.redisEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.close()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	if err := a.hub.Close(); err != nil {
		a.log.Error("hub.close.fail", "err", err)
	}
	if err := a.relay.Close(); err != nil {
		a.log.Error("relay.close.fail", "err", err)
	}
	if err := a.msgStore.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newBackends decides between Redis-backed persistence/relay and the
// in-memory dev implementations.
func newBackends(ctx context.Context, cfg Config, log Logger) (*redis.Client, bool, store.MessageStore, bus.Bus, friends.Store, error) {
	if cfg.RedisURL == "" {
		log.Info("redis.disabled.inmemory_backends")
		return nil, false, store.NewInMemoryStore(), bus.NewInMemoryBus(), friends.NewInMemoryStore(), nil
	}

	rdb, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, false, nil, nil, nil, err
	}

	log.Info("redis.enabled")

	// Ownership model:
	// - app owns the client lifecycle
	// - the stores and the relay treat it as borrowed
	msgStore, err := store.NewRedisStore(rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, false, nil, nil, nil, err
	}
	relay, err := bus.NewRedisBus(log, rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, false, nil, nil, nil, err
	}
	friendStore, err := friends.NewRedisStore(rdb)
	if err != nil {
		_ = relay.Close()
		_ = rdb.Close()
		return nil, false, nil, nil, nil, err
	}

	return rdb, true, msgStore, relay, friendStore, nil
}
