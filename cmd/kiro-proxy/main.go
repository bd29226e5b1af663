// Command kiro-proxy runs the Kiro upstream HTTP gateway: it loads accounts
// and configuration from disk, starts the background token refresher and
// session/flow housekeeping, and serves the OpenAI/Anthropic/Gemini-compatible
// HTTP surface until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/petehsu/KiroProxy/internal/account"
	"github.com/petehsu/KiroProxy/internal/api"
	"github.com/petehsu/KiroProxy/internal/cache"
	"github.com/petehsu/KiroProxy/internal/config"
	"github.com/petehsu/KiroProxy/internal/flow"
	"github.com/petehsu/KiroProxy/internal/governor"
	"github.com/petehsu/KiroProxy/internal/orchestrator"
	"github.com/petehsu/KiroProxy/internal/registry"
	"github.com/petehsu/KiroProxy/internal/upstream"
	"github.com/petehsu/KiroProxy/internal/usage"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const sessionPruneInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("loading .env: %v", err)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	configureLogOutput(cfg.LogFile)

	store := account.NewStore()
	if err := store.LoadFromConfig(cfg); err != nil {
		log.Fatalf("load accounts: %v", err)
	}
	registerAccountProviders(store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refresher := account.StartRefresher(ctx, store, cfg)
	defer refresher.Stop()

	watcher, err := config.NewWatcher(cfg.Path(), func(reloaded *config.Config) {
		if err := store.LoadFromConfig(reloaded); err != nil {
			log.Warnf("config watcher: reloaded config rejected: %v", err)
			return
		}
		log.Infof("config watcher: reloaded %d accounts from disk", len(reloaded.Accounts))
		registerAccountProviders(store)
	})
	if err != nil {
		log.Warnf("config watcher: disabled, could not watch %s: %v", cfg.Path(), err)
	} else {
		defer watcher.Close()
	}

	go runSessionPruner(ctx, store)

	govCfg := governor.DefaultConfig()
	applyLongContextConfig(&govCfg, cfg.LongContext)
	gov := governor.New(govCfg, nil)

	flows := flow.NewRing(500)
	if err := cache.InitRedisCache(cfg.RedisCache); err != nil {
		log.Warnf("redis cache: disabled, %v", err)
	} else if cfg.RedisCache.Enabled {
		defer cache.Close()
	}
	usage.InitStatsStorage(cfg.RedisCache)

	prefix := cfg.RedisCache.Prefix
	flows.SetMirror(func(rec flow.Record) {
		usage.GetStatsStorage().Record(rec)
		if cfg.RedisCache.Enabled {
			cache.MirrorFlow(prefix, rec)
		}
	})

	upstreamClient := upstream.NewClient(cfg)
	orch := orchestrator.New(store, upstreamClient, gov, flows)

	server := api.NewServer(cfg, store, orch, flows)

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Engine}

	go func() {
		log.Infof("kiro-proxy listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("graceful shutdown failed: %v", err)
	}
}

// configureLogOutput points logrus at a rotating file on top of stderr when
// the config names one, so a long-running deployment doesn't fill the disk
// with an ever-growing single log file.
func configureLogOutput(lf config.LogFileConfig) {
	if lf.Path == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   lf.Path,
		MaxSize:    lf.MaxSizeMB,
		MaxBackups: lf.MaxBackups,
		MaxAge:     lf.MaxAgeDays,
		Compress:   lf.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
}

// registerAccountProviders tells the model registry every loaded account is
// a Kiro/CodeWhisperer account, so /api/models/unavailable can report a
// meaningful provider label instead of "unknown".
func registerAccountProviders(store *account.Store) {
	reg := registry.GetGlobalRegistry()
	for _, snap := range store.List() {
		reg.RegisterAccountProvider(snap.ID, "kiro")
	}
}

// runSessionPruner periodically evicts expired session-stickiness bindings
// so a long-running process doesn't accumulate them forever.
func runSessionPruner(ctx context.Context, store *account.Store) {
	ticker := time.NewTicker(sessionPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.PruneSessions()
		}
	}
}

func applyLongContextConfig(gov *governor.Config, lc config.LongContextConfig) {
	if lc.TokenThreshold > 0 {
		gov.TokenThreshold = lc.TokenThreshold
	}
	switch lc.Strategy {
	case governor.StrategyAutoTruncate:
		gov.AutoTruncate = true
	case governor.StrategyPreEstimate:
		gov.PreEstimate = true
	case governor.StrategySmartSummary:
		gov.SmartSummary = true
	}
}
