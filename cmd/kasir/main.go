// Command kasir is the cashier terminal daemon. It keeps a durable SQLite
// mirror of the day's records, executes sales online-first against the
// central server, and drains the offline mutation queue in the background.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"temanngopi/pos/internal/client/api"
	"temanngopi/pos/internal/client/executor"
	"temanngopi/pos/internal/client/localstore"
	"temanngopi/pos/internal/client/netmon"
	syncer "temanngopi/pos/internal/client/sync"
	"temanngopi/pos/internal/config"
)

const cashierIDKey = "cashier_id"

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	store, err := localstore.Open(cfg.KasirDBPath, logger)
	if err != nil {
		logger.Error("cannot open local store", "path", cfg.KasirDBPath, "error", err)
		os.Exit(1)
	}

	apiClient := api.New(cfg.ServerBaseURL, logger)
	monitor := netmon.New(apiClient.Healthz, 5*time.Second, logger)
	ops := executor.NewOps(store, apiClient, monitor, logger, cfg.CutOffTime)
	coordinator := syncer.NewCoordinator(store, apiClient, monitor,
		time.Duration(cfg.SyncIntervalSeconds)*time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := login(ctx, cfg, store, apiClient, ops, logger); err != nil {
		logger.Error("login failed", "error", err)
		os.Exit(1)
	}

	if err := ops.RefreshProducts(ctx); err != nil {
		logger.Warn("product catalog refresh failed", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); monitor.Run(ctx) }()
	go func() { defer wg.Done(); coordinator.Run(ctx) }()

	daemon := newDaemon(store, ops, coordinator, monitor, logger)
	server := &http.Server{
		Addr:              cfg.KasirAddress(),
		Handler:           daemon.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		logger.Info("kasir daemon listening", "addr", cfg.KasirAddress(), "server", cfg.ServerBaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("daemon server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}

	cancel()
	wg.Wait()
	if err := store.Close(); err != nil {
		logger.Warn("local store close error", "error", err)
	}
	logger.Info("kasir daemon stopped")
}

// login authenticates against the central server. When the server is
// unreachable the daemon starts offline with the cashier identity persisted
// from the last successful login; a cold start with no saved identity cannot
// proceed.
func login(ctx context.Context, cfg config.Config, store *localstore.Store, apiClient *api.Client, ops *executor.Ops, logger *slog.Logger) error {
	if cfg.KasirEmail == "" || cfg.KasirPassword == "" {
		return errors.New("KASIR_EMAIL and KASIR_PASSWORD must be set")
	}

	loginCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := apiClient.Login(loginCtx, cfg.KasirEmail, cfg.KasirPassword)
	if err == nil {
		ops.SetCashier(resp.UserID)
		if err := store.PutSetting(ctx, cashierIDKey, resp.UserID); err != nil {
			logger.Warn("cannot persist cashier id", "error", err)
		}
		logger.Info("logged in", "cashier", resp.Name, "role", resp.Role)
		return nil
	}
	if !api.IsNetwork(err) {
		return err
	}

	cashierID, settingErr := store.GetSetting(ctx, cashierIDKey)
	if settingErr != nil {
		return errors.New("server unreachable and no saved cashier identity; connect once before offline use")
	}
	ops.SetCashier(cashierID)
	logger.Warn("starting offline with saved identity", "cashier_id", cashierID)
	return nil
}
