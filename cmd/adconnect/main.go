// Command adconnect runs the ad-platform credential service: the OAuth
// connect flow for merchants and the internal token API for services
// that call provider APIs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storeops/adconnect/internal/config"
	"github.com/storeops/adconnect/internal/credential"
	"github.com/storeops/adconnect/internal/logging"
	"github.com/storeops/adconnect/internal/manager"
	"github.com/storeops/adconnect/internal/provider"
	"github.com/storeops/adconnect/internal/secret"
	"github.com/storeops/adconnect/internal/server"
)

var Version = "dev"

// stateSweepInterval is how often expired handshake states are purged.
const stateSweepInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("adconnect starting",
		slog.String("version", Version),
		slog.String("listen", cfg.ListenAddr),
		slog.String("external_url", cfg.ExternalURL),
	)

	catalog, err := config.LoadCatalog(cfg.ProviderCatalogPath)
	if err != nil {
		return err
	}

	keys, err := secret.NewKeyring(cfg.TokenSecret, cfg.MetaTokenSecret)
	if err != nil {
		return fmt.Errorf("building keyring: %w", err)
	}

	store, err := credential.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer store.Close()

	registry := provider.NewRegistry(cfg, catalog, nil, logger)
	for p := range registry {
		logger.Info("provider registered",
			slog.String("provider", string(p)),
			slog.String("redirect_uri", cfg.RedirectURI(string(p))),
		)
	}

	mgr := manager.New(store, keys, registry, logger, manager.Options{
		SafetyMargin:    cfg.RefreshSafetyMargin,
		ProviderTimeout: cfg.ProviderTimeout,
		StateTTL:        cfg.AuthStateTTL,
		ExternalURL:     cfg.ExternalURL,
	})

	mux := server.NewMux(server.MuxConfig{
		Manager: mgr,
		Logger:  logger,
		APIKeys: cfg.APIKeys(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runServer(gctx, cfg.ListenAddr, mux, logger)
	})

	g.Go(func() error {
		return runStateJanitor(gctx, mgr, logger)
	})

	return g.Wait()
}

func runServer(ctx context.Context, addr string, mux http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// runStateJanitor purges expired handshake states so abandoned
// sign-ins do not accumulate in the store.
func runStateJanitor(ctx context.Context, mgr *manager.Manager, logger *slog.Logger) error {
	ticker := time.NewTicker(stateSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := mgr.PurgeExpiredAuthStates(ctx)
			if err != nil {
				logger.Warn("purging handshake states", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Debug("purged handshake states", slog.Int("count", n))
			}
		}
	}
}
