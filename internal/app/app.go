package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/grandcat/zeroconf"

	"kickhunt/huntsync/internal/config"
	"kickhunt/huntsync/internal/dashboard"
	"kickhunt/huntsync/internal/huntsync"
	"kickhunt/huntsync/internal/model"
	"kickhunt/huntsync/internal/relay"
	"kickhunt/huntsync/internal/remote"
	"kickhunt/huntsync/internal/remote/postgres"
	"kickhunt/huntsync/internal/remote/sqlite"
)

// App wires together the huntsync services and manages their lifecycle.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	store   remote.Store
	sync    *huntsync.Service
	hub     *dashboard.Hub
	relay   *relay.Relay
	display huntsync.Display
	mdns    *zeroconf.Server
	ready   atomic.Bool
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

type schemaInitializer interface {
	InitSchema(ctx context.Context) error
}

// openRemote picks the store implementation from the URL scheme.
func openRemote(ctx context.Context, cfg config.Config, logger *slog.Logger) (remote.Store, error) {
	url := cfg.RemoteURL
	var (
		store remote.Store
		err   error
	)
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		store, err = postgres.Open(ctx, url, cfg.AccessKey, logger.With("component", "postgres"))
	case strings.HasPrefix(url, "sqlite://"):
		store, err = sqlite.Open(strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "file:"):
		store, err = sqlite.Open(strings.TrimPrefix(url, "file:"))
	default:
		return nil, fmt.Errorf("unsupported remote url scheme in %q", redactURL(url))
	}
	if err != nil {
		return nil, err
	}

	if cfg.InitSchema {
		if initer, ok := store.(schemaInitializer); ok {
			if err := initer.InitSchema(ctx); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
	}
	return store, nil
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	store, err := openRemote(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = store

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close remote store", "error", cerr)
		}
	}()

	a.hub = dashboard.NewHub(func() []model.Location { return a.sync.Board.Locations() }, a.logger.With("component", "dashboard"))
	displays := huntsync.MultiDisplay{a.hub}

	if a.cfg.MQTTBroker != "" {
		a.relay = relay.New(relay.Options{
			Broker:      a.cfg.MQTTBroker,
			TopicPrefix: a.cfg.MQTTTopicPrefix,
			Logger:      a.logger.With("component", "relay"),
		})
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := a.relay.Connect(connectCtx)
		cancel()
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.relay.Close(); cerr != nil {
				a.logger.Error("close mqtt relay", "error", cerr)
			}
		}()
		displays = append(displays, a.relay)
	}
	a.display = displays

	a.sync = huntsync.New(a.store, a.display, huntsync.Options{
		CallTimeout: a.cfg.CallTimeout,
		Logger:      a.logger,
	})

	// Load failures are already logged; the dashboard starts empty and can reload.
	_, _ = a.sync.Locations.LoadAll(ctx)
	_, _ = a.sync.Positions.LoadAll(ctx)

	if err := a.sync.Notifier.Subscribe(ctx); err != nil {
		return err
	}
	defer func() { _ = a.sync.Notifier.Close() }()

	if a.relay != nil {
		if err := a.relay.IngestPositions(ctx, a.sync.Positions.UpdateMany); err != nil {
			return err
		}
	}

	if a.cfg.MDNS {
		if err := a.startMDNS(); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	a.ready.Store(true)

	for {
		select {
		case <-ctx.Done():
			a.ready.Store(false)
			_ = a.hub.Close()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")
			return nil
		case err := <-httpErrCh:
			if err != nil {
				a.ready.Store(false)
				_ = a.hub.Close()
				return err
			}
		}
	}
}

func redactURL(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
