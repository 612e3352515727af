package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/download"
	"vidgrab/internal/extract"
	"vidgrab/internal/logging"
	"vidgrab/internal/server"
	"vidgrab/internal/session"
	"vidgrab/internal/store"
)

func main() {
	cfg := config.New()

	flag.StringVar(&cfg.OutputDir, "output-dir", "", "Directory for downloaded files (default: OS temp dir)")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Host address to bind")
	flag.StringVar(&cfg.DBPath, "db", "", "Path to SQLite history database (default: OS cache dir)")
	flag.DurationVar(&cfg.StrategyTimeout, "strategy-timeout", cfg.StrategyTimeout, "Per-strategy metadata fetch limit")
	flag.DurationVar(&cfg.DownloadTimeout, "download-timeout", cfg.DownloadTimeout, "Wall-clock limit per download attempt")
	flag.DurationVar(&cfg.SessionMaxAge, "session-max-age", cfg.SessionMaxAge, "Age after which unclaimed sessions are reclaimed")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "How often the session sweep runs")
	flag.BoolVar(&cfg.MergeToRequested, "merge-to-requested", cfg.MergeToRequested, "Force merged output into the requested container")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug|info|warn|error)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel))

	if err := cfg.ResolveOutputDir(); err != nil {
		log.Fatalf("resolve output dir: %v", err)
	}
	if err := os.MkdirAll(cfg.AbsOutputDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	// Check the external tool early; nothing works without it.
	if err := download.CheckTool(); err != nil {
		log.Fatalf("yt-dlp not found: %v", err)
	}

	if err := cfg.ResolveDBPath(); err != nil {
		log.Fatalf("resolve db path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.AbsDBPath), 0o755); err != nil {
		log.Fatalf("create db dir: %v", err)
	}
	st, err := store.Open(cfg.AbsDBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	// Rows left mid-flight by a previous process can never finish now.
	if _, err := st.MarkInterrupted(context.Background()); err != nil {
		log.Printf("mark interrupted: %v", err)
	}

	chain := extract.NewChain(extract.ChainOptions{
		Timeout:   cfg.StrategyTimeout,
		JitterMin: cfg.JitterMin,
		JitterMax: cfg.JitterMax,
	})
	exec := download.NewExecutor(chain, cfg.DownloadTimeout, cfg.MergeToRequested)
	mgr := session.NewManager(&storeHooks{st: st})
	coord := session.NewCoordinator(mgr, exec, chain, cfg.AbsOutputDir)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	mgr.StartSweeper(appCtx, cfg.SweepInterval, cfg.SessionMaxAge)

	handler := server.New(chain, coord, mgr, st, server.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		CleanupGrace:      cfg.CleanupGrace,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // progress streams stay open indefinitely
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logging.LogServerStart(cfg.Addr, cfg.Summary())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-appCtx.Done()
	logging.LogServerShutdown("shutdown signal received; draining", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.LogServerShutdown("http shutdown", err)
	}
	if err := st.Close(); err != nil {
		logging.LogServerShutdown("close db", err)
	}
	logging.LogServerShutdown("shutdown complete", nil)
}

// storeHooks mirrors session lifecycle events into the history database.
// Writes are best effort; the in-memory session stays authoritative.
type storeHooks struct{ st *store.Store }

func (h *storeHooks) OnCreate(s session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.st.CreateSession(ctx, store.Record{
		SessionID: s.ID,
		VideoID:   s.VideoID,
		URL:       s.URL,
		Quality:   s.Quality,
		Format:    s.Format,
		Status:    string(s.Status),
	})
	if err != nil && !isExpectedDBError(err) {
		log.Printf("db create session id=%s: %v", s.ID, err)
	}
}

func (h *storeHooks) OnTitle(sessionID, title string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.st.UpdateTitle(ctx, sessionID, title); err != nil && !isExpectedDBError(err) {
		log.Printf("db update title id=%s: %v", sessionID, err)
	}
}

func (h *storeHooks) OnProgress(sessionID string, progress float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.st.UpdateProgress(ctx, sessionID, progress); err != nil && !isExpectedDBError(err) {
		log.Printf("db update progress id=%s: %v", sessionID, err)
	}
}

func (h *storeHooks) OnStateChange(s session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.st.UpdateStatus(ctx, s.ID, string(s.Status), s.Error, s.FilePath); err != nil && !isExpectedDBError(err) {
		log.Printf("db update status id=%s: %v", s.ID, err)
	}
}

// isExpectedDBError reports errors that are normal during shutdown.
func isExpectedDBError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return msg == "sql: database is closed" ||
		msg == "context deadline exceeded" ||
		msg == "context canceled"
}
