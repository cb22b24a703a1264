// Kestrel - Lead qualification that deploys in 60 seconds.

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

	"github.com/openleads/kestrel/internal/api"
	"github.com/openleads/kestrel/internal/bus"
	"github.com/openleads/kestrel/internal/cache"
	"github.com/openleads/kestrel/internal/domain"
	"github.com/openleads/kestrel/internal/pipeline"
	"github.com/openleads/kestrel/internal/repository"
	"github.com/openleads/kestrel/internal/routing"
	"github.com/openleads/kestrel/internal/rules"
	"github.com/openleads/kestrel/internal/velocity"
	"github.com/openleads/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"pipeline_mode", cfg.PipelineMode,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(repo, cacheImpl)
	slog.Info("velocity service initialized")

	// Initialize Qualification Engine
	engine, err := rules.NewQualificationEngine()
	if err != nil {
		slog.Error("failed to initialize qualification engine", "error", err)
		os.Exit(1)
	}

	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("qualification engine initialized", "rules_count", engine.RuleCount())

	// Initialize Tag Engine
	tagEngine, err := rules.NewTagEngine()
	if err != nil {
		slog.Error("failed to initialize tag engine", "error", err)
		os.Exit(1)
	}

	if err := loadTagRulesFromDatabase(ctx, repo, tagEngine); err != nil {
		slog.Error("failed to load tag rules", "error", err)
		os.Exit(1)
	}
	slog.Info("tag engine initialized", "tag_rules_count", tagEngine.TagRuleCount())

	// Initialize decision pipeline and routing planner
	processor := pipeline.NewProcessor(engine, tagEngine, velocitySvc)
	planner := routing.NewPlanner()
	slog.Info("decision pipeline initialized", "velocity_window", processor.VelocityWindow)

	// Initialize async Worker (Pro tier / async pipeline mode)
	var asyncWorker *worker.Worker
	if cfg.PipelineMode == domain.ModeAsync || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, processor)

		if err := asyncWorker.Start(worker.Config{DecisionTTL: time.Hour}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, tagEngine, processor, planner, Version, cfg.PipelineMode)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadRulesFromDatabase loads qualification rules into the engine. On an
// empty database the starter rule set is installed and persisted so a
// fresh deployment makes useful decisions immediately.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.QualificationEngine) error {
	dbRules, err := repo.ListRules(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.ReloadRules(dbRules)
	}

	slog.Info("no rules in database - seeding starter rule set")
	for _, rule := range rules.DefaultRules() {
		if err := engine.AddRule(rule); err != nil {
			return err
		}
		if err := repo.SaveRule(ctx, rule); err != nil {
			slog.Warn("failed to persist seed rule", "id", rule.ID, "error", err)
		}
	}
	return nil
}

// loadTagRulesFromDatabase loads tag rules into the engine, seeding the
// starter set when the database is empty.
func loadTagRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.TagEngine) error {
	dbRules, err := repo.ListTagRules(ctx)
	if err != nil {
		slog.Warn("failed to list tag rules from database", "error", err)
		return nil
	}

	if len(dbRules) > 0 {
		slog.Info("loading tag rules from database", "count", len(dbRules))
		return engine.ReloadTagRules(dbRules)
	}

	slog.Info("no tag rules in database - seeding starter tag rule set")
	for _, rule := range rules.DefaultTagRules() {
		if err := engine.AddTagRule(rule); err != nil {
			return err
		}
		if err := repo.SaveTagRule(ctx, rule); err != nil {
			slog.Warn("failed to persist seed tag rule", "id", rule.ID, "error", err)
		}
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                KESTREL                    ║")
	fmt.Println("  ║       Lead Qualification Engine           ║")
	fmt.Println("  ║      Every lead, decided in flight.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Mode:     %s\n", cfg.PipelineMode)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /leads                 - Capture and evaluate a lead")
	fmt.Println("    POST /qualify               - Qualify a feature snapshot")
	fmt.Println("    POST /route                 - Plan agent routing for a decision")
	fmt.Println("    GET  /leads/{id}            - Get lead by ID")
	fmt.Println("    GET  /leads/{id}/decision   - Latest decision for a lead")
	fmt.Println("    GET  /decisions/{id}        - Get decision by ID")
	fmt.Println("    GET  /rules                 - List qualification rules")
	fmt.Println("    POST /rules                 - Create a qualification rule")
	fmt.Println("    POST /rules/reload          - Hot-reload rules from database")
	fmt.Println("    GET  /tag-rules             - List tag rules")
	fmt.Println("    POST /tag-rules             - Create a tag rule")
	fmt.Println("    POST /tag-rules/reload      - Hot-reload tag rules")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
