package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"timetable_bot/internal/bot"
	"timetable_bot/internal/config"
	"timetable_bot/internal/fetcher"
	"timetable_bot/internal/scheduler"
	"timetable_bot/internal/status"
	"timetable_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		log.Error("load timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	f := fetcher.New(&http.Client{Timeout: 30 * time.Second}, fetcher.Format(cfg.DocumentFormat), cfg.FetchCacheTTL.Std())

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, f, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, f, b, b, log, scheduler.Options{
		Location:   loc,
		RetryDelay: cfg.RetryDelay.Std(),
	})
	b.SetSyncer(sched)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "timezone", loc.String(), "format", cfg.DocumentFormat)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	if cfg.HTTPAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv := status.New(cfg.HTTPAddr, store, sched, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Error("status server", "error", err)
			}
		}()
	}

	b.Run(ctx)
	wg.Wait()

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
