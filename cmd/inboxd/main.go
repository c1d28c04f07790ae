package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/inboxd/inboxd/internal/agent"
	"github.com/inboxd/inboxd/internal/config"
	"github.com/inboxd/inboxd/internal/history"
	"github.com/inboxd/inboxd/internal/httpapi"
	"github.com/inboxd/inboxd/internal/identity"
	"github.com/inboxd/inboxd/internal/observability"
	"github.com/inboxd/inboxd/internal/rooms"
	"github.com/inboxd/inboxd/internal/runtime"
	"github.com/inboxd/inboxd/internal/task"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	ctx := context.Background()

	var (
		store     history.Store
		resolver  identity.Resolver
		storeMode string
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := history.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("history store init failed: %v", err)
		}
		store = pgStore
		resolver = identity.NewPostgresResolverWithPool(pgStore.Pool())
		storeMode = "postgres"
	} else {
		store = history.NewMemoryStore()
		resolver = identity.NewStaticResolver()
		storeMode = "in-memory"
	}
	log.Printf("history store: %s", storeMode)

	roomRegistry := rooms.NewRegistry()
	taskRegistry := task.NewRegistry(roomRegistry, cfg.AuthWaitTimeout, cfg.ApprovalWaitTimeout)

	// The LLM planner and real mail backend plug in here; without them
	// the service runs the scripted fallback so the session protocol
	// can be exercised end to end.
	driver := agent.NewDriver(agent.NewEchoPlanner(), agent.NewMemoryMailbox(), agent.NewStaticCredentials())
	log.Printf("agent driver: scripted fallback")

	tasks := runtime.New(runtime.Config{
		TaskTimeout: cfg.TaskTimeout,
		StoreMode:   storeMode,
	}, taskRegistry, driver, store, metrics)
	defer tasks.Close()

	roomRegistry.SetEmptyHook(tasks.CancelRoom)

	api := httpapi.New(cfg, roomRegistry, resolver, tasks, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
