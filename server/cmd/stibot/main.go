package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/stirosario/sti-ai-chat-sub007/server/internal/api"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/audit"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/config"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/contract"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/intel"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/log"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/orchestrator"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/session"
	"github.com/stirosario/sti-ai-chat-sub007/server/internal/stage"
)

func main() {
	configPath := flag.String("config", "", "config file path (yaml), empty uses built-in defaults")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "stibot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Configure(log.Config{Level: cfg.Logging.Level, Service: "stibot"})
	logger := log.WithComponent("main")

	table, err := loadContract(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var backend session.Store
	switch cfg.Store.Backend {
	case "redis":
		backend, err = session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		}, cfg.Session.IdleTTL)
		if err != nil {
			return fmt.Errorf("init redis store: %w", err)
		}
	default:
		mem := session.NewInMemoryStore(cfg.Session.IdleTTL)
		g.Go(func() error { return mem.Run(ctx) })
		backend = mem
	}
	defer backend.Close()

	store := session.NewWriteBack(backend, cfg.Session.FlushInterval)

	hub := audit.NewHub()
	var trail *audit.CSVTrail
	if cfg.Audit.TrailPath != "" {
		trail, err = audit.NewCSVTrail(cfg.Audit.TrailPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := trail.Close(); err != nil {
				logger.Warn().Err(err).Msg("close audit trail")
			}
		}()
	}

	var intelClient intel.Client
	if cfg.Intel.Enabled {
		intelClient = intel.NewHTTPClient(cfg.Intel.Endpoint, cfg.Intel.APIKey, cfg.Intel.HardTimeout)
	}

	catalog := stage.NewCatalog(cfg.Session.DefaultLocale)
	registry := stage.DefaultRegistry(stage.Deps{
		Contract:        table,
		Catalog:         catalog,
		Intel:           intelClient,
		IntelTimeout:    cfg.Intel.Timeout,
		Tickets:         stage.NewLocalTicketIssuer(),
		Links:           stage.NewWaMeLinker(cfg.Tickets.WhatsAppPhone),
		MaxAttempts:     cfg.Session.MaxAttempts,
		MaxContextTurns: cfg.Session.MaxContextTurns,
		Logger:          log.WithComponent("stage"),
	})

	orch := orchestrator.New(store, table, registry, catalog, audit.NewRecorder(hub, trail), orchestrator.Config{
		CriticalReasons: cfg.Session.CriticalReasons,
	})

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewServer(cfg, orch, hub).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error { return store.Run(ctx) })

	g.Go(func() error {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("store", cfg.Store.Backend).
			Bool("intel", cfg.Intel.Enabled).
			Msg("stibot server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("stibot server stopped")
	return nil
}

// loadContract 优先读配置指定的契约表文件，没有就用内置表。
// 表在进程启动时定稿，换表是一次部署事件。
func loadContract(cfg *config.Config) (*contract.Table, error) {
	if cfg.Contract.StagesPath == "" {
		return contract.Default(), nil
	}
	table, err := contract.Load(cfg.Contract.StagesPath)
	if err != nil {
		return nil, fmt.Errorf("load stage table: %w", err)
	}
	return table, nil
}
