package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fallenassoc/anonplay/internal/cache"
	"github.com/fallenassoc/anonplay/internal/config"
	"github.com/fallenassoc/anonplay/internal/discord"
	"github.com/fallenassoc/anonplay/internal/fetch"
	"github.com/fallenassoc/anonplay/internal/metrics"
	"github.com/fallenassoc/anonplay/internal/playback"
	"github.com/fallenassoc/anonplay/internal/pool"
	"github.com/fallenassoc/anonplay/internal/queue"
	"github.com/fallenassoc/anonplay/internal/repository"
	"github.com/fallenassoc/anonplay/internal/resolver"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	clearTmp(cfg.TmpDir)

	db, err := repository.OpenDB(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	repo := repository.NewRepo(db)

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Error("metrics server", "error", err)
			}
		}()
	}

	assistants, err := discord.NewAssistants(cfg.AssistantTokens)
	if err != nil {
		log.Fatal(err)
	}
	if err := assistants.Open(); err != nil {
		log.Fatal(err)
	}
	defer assistants.Close()

	res, err := resolver.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	fileCache := cache.NewFileCache(cfg, repo)
	creds := fetch.LoadCredentials(cfg.CookiesDir)
	fetcher := fetch.New(resolver.NewDownloader(cfg), fileCache, creds, cfg.ProgressInterval, met)

	assistantPool := pool.New(repo, assistants.Conns())
	queues := queue.New(cfg.QueueLimit)
	notifier := discord.NewNotifier(assistants.Primary())

	ctrl := playback.NewController(cfg, repo, queues, assistantPool, fetcher, res, notifier, met)
	defer ctrl.Close()

	timers, err := playback.NewTimers(ctrl, func() {
		met.AssistantLatency.Set(assistantPool.Ping().Seconds())
	})
	if err != nil {
		log.Fatal(err)
	}
	timers.Start()
	defer timers.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bridge := playback.NewBridge(ctrl)
	go bridge.Run(ctx, assistants.Events())

	slog.Info("anonplay running", "assistants", assistantPool.Size())
	<-ctx.Done()
	slog.Info("shutting down")
}

// clearTmp drops leftover download scratch dirs from a previous run.
func clearTmp(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		_ = os.RemoveAll(filepath.Join(dir, e.Name()))
	}
}
