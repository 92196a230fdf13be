// cmd/server — 推理链引擎 HTTP 服务入口。
//
// 启动:
//
//	chain-engine server --addr :8080
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/query-canvas/chain-engine/internal/canvasapi"
	"github.com/query-canvas/chain-engine/internal/chainstore"
	"github.com/query-canvas/chain-engine/internal/config"
	"github.com/query-canvas/chain-engine/internal/database"
	"github.com/query-canvas/chain-engine/internal/engine"
	"github.com/query-canvas/chain-engine/internal/recovery"
	"github.com/query-canvas/chain-engine/internal/store"
	"github.com/query-canvas/chain-engine/internal/stream"
	"github.com/query-canvas/chain-engine/pkg/logger"
	"github.com/query-canvas/chain-engine/pkg/util"
)

func main() {
	addr := flag.String("addr", "", "HTTP 监听地址 (默认取 HTTP_ADDR)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogEnv)
	if *addr == "" {
		*addr = cfg.HTTPAddr
	}

	// PostgreSQL (链持久化, 必需)
	if cfg.PostgresConnStr == "" {
		logger.Fatal("POSTGRES_CONNECTION_STRING is required")
	}
	dbPool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("postgres connect failed", logger.Any(logger.FieldError, err))
	}
	defer dbPool.Close()

	// 日志第二路落库
	logger.AttachDBHandler(dbPool)
	defer logger.ShutdownDBHandler()

	// 自动迁移
	migrationsDir := filepath.Join(filepath.Dir(os.Args[0]), "..", "..", "migrations")
	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		migrationsDir = "migrations"
	}
	if err := database.Migrate(ctx, dbPool, migrationsDir); err != nil {
		logger.Fatal("migration failed", logger.FieldError, err, logger.FieldPath, migrationsDir)
	}

	// 组件装配
	chainStore := store.NewReasoningChainStore(dbPool, cfg.ChainFetchLimit)
	loader := chainstore.NewLoader(chainStore, time.Duration(cfg.ChainLoadDebounceMS)*time.Millisecond)
	transport := stream.NewWSTransport(cfg.AgentWSURL,
		time.Duration(cfg.AgentDialTimeout)*time.Second,
		time.Duration(cfg.AgentPingInterval)*time.Second)

	bus := canvasapi.NewEventBus(cfg.SSEBufferSize)
	eng := engine.New(transport, loader, chainStore, bus)
	coord := recovery.NewCoordinator(loader, eng)

	srv := canvasapi.NewServer(&canvasapi.Deps{
		Engine:   eng,
		Loader:   loader,
		Recovery: coord,
	}, time.Duration(cfg.SSEKeepaliveMS)*time.Millisecond, bus)

	httpSrv := &http.Server{Addr: *addr, Handler: srv.Engine()}
	util.SafeGo(func() {
		logger.Infow("chain-engine serving", "addr", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", logger.Any(logger.FieldError, err))
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown failed", logger.FieldError, err)
	}
}
