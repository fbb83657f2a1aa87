package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/quadsync/internal/api"
	"github.com/kalambet/quadsync/internal/cache"
	"github.com/kalambet/quadsync/internal/config"
	"github.com/kalambet/quadsync/internal/coordinator"
	"github.com/kalambet/quadsync/internal/graphstore"
	"github.com/kalambet/quadsync/internal/relational"
	"github.com/kalambet/quadsync/internal/sweep"
	"github.com/kalambet/quadsync/internal/vector"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the quadsync server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running quadsync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show quadsync system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "quadsync.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// searchAdapter converts vector matches to the API response shape.
type searchAdapter struct {
	store *vector.Store
}

func (a searchAdapter) SearchSimilar(ctx context.Context, text string, topK int) ([]api.SearchMatch, error) {
	matches, err := a.store.SearchSimilar(ctx, text, topK)
	if err != nil {
		return nil, err
	}
	out := make([]api.SearchMatch, len(matches))
	for i, m := range matches {
		out[i] = api.SearchMatch{Doc: m.Doc, Score: m.Score}
	}
	return out, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "quadsync version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if a server already answers on the port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("quadsync is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("quadsync is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the critical stores. Failure to open either is fatal.
	relStore, err := relational.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening relational store: %w", err)
	}
	defer func() {
		if err := relStore.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing relational store: %v\n", err)
		}
	}()

	vecStore, err := vector.Open(cfg.Storage.DataDir, vector.NewHashingEmbedder(0))
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer vecStore.Close()

	// Optional stores degrade the system instead of blocking startup.
	stores := coordinator.Stores{
		Relational: relStore,
		Vector:     vecStore,
	}

	graphStore, err := graphstore.Open(cfg.Storage.DataDir)
	if err != nil {
		slog.Warn("graph store unavailable, relationship queries disabled", "error", err)
	} else {
		defer graphStore.Close()
		stores.Graph = graphStore
	}

	cacheStore, err := cache.Open(ctx, cache.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		TTL:      cfg.Cache.TTL(),
	})
	if err != nil {
		slog.Warn("cache unavailable, reads go to primary storage", "error", err)
	} else {
		defer cacheStore.Close()
		stores.Cache = cacheStore
	}

	coord := coordinator.New(stores, coordinator.Options{
		CallTimeout: cfg.Sync.CallTimeout(),
	})

	// Build HTTP handler and server.
	deps := api.Deps{
		Sync:   coord,
		Search: searchAdapter{store: vecStore},
	}
	if graphStore != nil {
		deps.Related = graphStore
	}
	handler := api.NewHandler(deps)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start the consistency sweeper.
	if interval := cfg.Sync.SweepInterval(); interval > 0 {
		sweeper := sweep.NewSweeper(relStore, coord, interval, cfg.Sync.SweepBatch)
		go sweeper.Run(ctx)
		slog.Info("consistency sweeper started", "interval", interval, "batch", cfg.Sync.SweepBatch)
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "quadsync listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("quadsync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop quadsync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to quadsync (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	defer resp.Body.Close()

	// A degraded server answers 503 but still sends a full report.
	var report struct {
		CoordinatorStatus string `json:"coordinator_status"`
		Stores            map[string]struct {
			Status string `json:"status"`
			Detail string `json:"detail"`
		} `json:"per_store"`
		CircuitBreakers map[string]struct {
			State string `json:"state"`
		} `json:"circuit_breakers"`
		ActiveTransactions int `json:"active_transaction_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}

	printStatus("Server", "running on port %d", cfg.Server.Port)
	printStatus("Coordinator", "%s", report.CoordinatorStatus)
	for role, health := range report.Stores {
		detail := health.Status
		if health.Detail != "" {
			detail = fmt.Sprintf("%s (%s)", health.Status, health.Detail)
		}
		printStatus("Store "+role, "%s", detail)
	}
	for role, cb := range report.CircuitBreakers {
		printStatus("Breaker "+role, "%s", cb.State)
	}
	printStatus("Active transactions", "%d", report.ActiveTransactions)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
