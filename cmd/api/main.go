package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/case-service/internal/api/http"
	"github.com/spec-kit/case-service/internal/api/http/handlers"
	"github.com/spec-kit/case-service/internal/auth"
	"github.com/spec-kit/case-service/internal/config"
	"github.com/spec-kit/case-service/internal/events"
	"github.com/spec-kit/case-service/internal/lock"
	"github.com/spec-kit/case-service/internal/observability"
	"github.com/spec-kit/case-service/internal/persistence"
	"github.com/spec-kit/case-service/internal/plugin"
	"github.com/spec-kit/case-service/internal/repository"
	"github.com/spec-kit/case-service/internal/service"
	"github.com/spec-kit/case-service/internal/worker"
)

type flags struct {
	envFile     string
	pluginsFile string
	migrate     bool
	migrateSet  bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	flagSet := pflag.NewFlagSet("case-service", pflag.ContinueOnError)
	flagSet.StringVar(&f.envFile, "env-file", "", "load environment variables from this file before reading config")
	flagSet.StringVar(&f.pluginsFile, "plugins-file", "", "YAML plugin activation file (overrides PLUGINS_FILE)")
	flagSet.BoolVar(&f.migrate, "migrate", true, "run SQL migrations on startup (overrides POSTGRES_RUN_MIGRATIONS)")
	if err := flagSet.Parse(args); err != nil {
		return f, err
	}
	f.migrateSet = flagSet.Changed("migrate")
	return f, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("invalid flags: %v", err)
	}

	var envFiles []string
	if opts.envFile != "" {
		envFiles = append(envFiles, opts.envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if opts.pluginsFile != "" {
		cfg.Plugins.File = opts.pluginsFile
	}
	if opts.migrateSet {
		cfg.Postgres.RunMigrations = opts.migrate
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("case service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	pool := pg.PoolHandle()
	if pool == nil {
		return errors.New("POSTGRES_DSN is required")
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	registry, err := buildRegistry(cfg.Plugins, repository.NewPluginInstanceRepository(pool))
	if err != nil {
		return err
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Flow.LockBackend == config.BackendRedis {
		locker = lock.NewRedisLocker(redis.Client, cfg.Flow.LockTTL(), logger)
	}

	dispatcher, startDispatcher, stopDispatcher, err := buildDispatcher(ctx, cfg.Flow, redis, logger)
	if err != nil {
		return err
	}

	audit := service.NewAuditService(repository.NewEventRepository(pool), logger)
	flows := service.NewCaseFlowService(service.FlowDependencies{
		CaseRepo:        repository.NewCaseRepository(pool),
		ParticipantRepo: repository.NewParticipantRepository(pool),
		ResourceRepo:    repository.NewResourceRepository(pool),
		Incidents:       service.NewIncidentGateway(repository.NewIncidentRepository(pool), dispatcher, logger),
		Registry:        registry,
		Locker:          locker,
		Audit:           audit,
		Logger:          logger,
		Metrics:         metrics,
		ProviderTimeout: cfg.Flow.ProviderTimeout(),
	})
	worker.StartFlowWorker(worker.NewFlowWorker(dispatcher, flows, logger))
	startDispatcher()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Cases:          handlers.NewCasesHandler(dispatcher, audit),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case err = <-listenErr:
		err = fmt.Errorf("fiber listen: %w", err)
	case sig := <-shutdownSignal():
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	if shutdownErr := app.Shutdown(); shutdownErr != nil {
		logger.Warn("fiber shutdown", zap.Error(shutdownErr))
	}
	cancel()
	stopDispatcher()
	return err
}

// buildRegistry consults the activation file first, then the plugin
// instances stored for each project.
func buildRegistry(cfg config.PluginsConfig, stored plugin.ActivationStore) (*plugin.Registry, error) {
	stores := make([]plugin.ActivationStore, 0, 2)
	if cfg.File != "" {
		static, err := plugin.LoadStaticActivations(cfg.File)
		if err != nil {
			return nil, err
		}
		stores = append(stores, static)
	}
	stores = append(stores, stored)
	return plugin.NewRegistry(stores...), nil
}

// buildDispatcher returns the configured dispatcher with start and stop
// functions. start begins consuming and must run after handlers subscribe;
// stop drains the dispatcher once the base context is cancelled.
func buildDispatcher(ctx context.Context, cfg config.FlowConfig, redis *persistence.Redis, logger *zap.Logger) (events.Dispatcher, func(), func(), error) {
	if cfg.QueueBackend != config.BackendRedis {
		dispatcher := events.NewInMemoryDispatcher(ctx, cfg.WorkerConcurrency, logger)
		return dispatcher, func() {}, dispatcher.Close, nil
	}

	dispatcher, err := events.NewRedisStreamDispatcher(ctx, redis.Client, events.StreamConfig{
		Stream:      cfg.QueueStream,
		Group:       cfg.QueueGroup,
		Consumer:    cfg.QueueConsumer,
		DLQStream:   cfg.QueueDLQStream,
		MaxAttempts: cfg.QueueMaxAttempts,
	}, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	done := make(chan struct{})
	start := func() {
		go func() {
			defer close(done)
			if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event stream consumer stopped", zap.Error(err))
			}
		}()
	}
	return dispatcher, start, func() { <-done }, nil
}

func shutdownSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
