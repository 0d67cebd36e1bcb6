package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"checklist-api/api"
	"checklist-api/audit"
	"checklist-api/config"
	"checklist-api/fieldmap"
	"checklist-api/resolve"
	"checklist-api/storage"
	"checklist-api/update"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "checklist-api",
		Short:         "Resolve and update checklist tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the task API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgFile)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "init-storage",
		Short: "Create the tasks table and the audit queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInitStorage(cmd.Context(), cfgFile)
		},
	})
	return root
}

func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	if cfg.Debug {
		level = log.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}

func runInitStorage(ctx context.Context, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Errorf("config: %v", err)
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.ValidateStorage(); err != nil {
		logger.Errorf("config: %v", err)
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := storage.Provision(ctx, cfg.StorageConnectionString, cfg.TasksTable, cfg.AuditQueue); err != nil {
		logger.Errorf("init storage: %v", err)
		return err
	}
	logger.Info("storage initialized")
	return nil
}

func runServe(ctx context.Context, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Errorf("config: %v", err)
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Errorf("config: %v", err)
		return err
	}

	store, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.AuditQueue)
	if err != nil {
		logger.Errorf("storage: %v", err)
		return err
	}

	var rc *redis.Client
	if cfg.RedisConnectionString != "" {
		redisOpts, err := storage.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			logger.Errorf("redis: %v", err)
			return err
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
	} else {
		logger.Info("REDIS_CONNECTION_STRING not set, task cache disabled")
	}
	cache := storage.NewCache(store, rc, cfg.CacheTTL)

	publisher := audit.NewPublisher(cache, audit.Options{
		Workers:        cfg.AuditWorkers,
		Buffer:         cfg.AuditBuffer,
		EnqueueTimeout: cfg.AuditEnqueueTimeout,
		HandoffTimeout: cfg.AuditHandoffTimeout,
	}, logger)
	defer publisher.Close()

	mapper := fieldmap.New()
	pipeline := update.NewPipeline(
		resolve.New(cache, logger),
		update.NewExecutor(cache, mapper, cfg.ConflictRetries, logger),
		update.NewProjector(mapper),
		publisher,
		logger,
	)

	auth, err := newAuth(cfg)
	if err != nil {
		logger.Errorf("jwks: %v", err)
		return err
	}
	if auth.JWKS != nil {
		defer auth.JWKS.EndBackground()
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.HTTPErrorHandler = api.ErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPatch, http.MethodPut},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.RequestBodyMiddleware(cfg.MaxBodyBytes))
	api.Register(e, pipeline, auth, api.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		StoreTimeout: cfg.StoreTimeout,
	}, logger)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr)
		errCh <- e.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server: %v", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
		return err
	}
	return nil
}

func newAuth(cfg config.Config) (*api.Auth, error) {
	if cfg.AuthTestMode {
		return api.NewTestAuth([]byte(cfg.TestJWTSecret), cfg.Auth0Audience, ""), nil
	}
	jwks, err := keyfunc.Get(api.JWKSURL(cfg.Auth0Domain), keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, cfg.Auth0Audience, api.IssuerFor(cfg.Auth0Domain)), nil
}
