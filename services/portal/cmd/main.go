package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"PemkoPortal/pkg/authz"
	"PemkoPortal/pkg/backend"
	"PemkoPortal/pkg/config"
	"PemkoPortal/pkg/events"
	"PemkoPortal/pkg/health"
	"PemkoPortal/pkg/logger"
	"PemkoPortal/pkg/metrics"
	"PemkoPortal/pkg/rabbitmq"
	"PemkoPortal/pkg/ratelimit"
	pkg_redis "PemkoPortal/pkg/redis"
	"PemkoPortal/pkg/session"
	"PemkoPortal/pkg/validation"
	httphandler "PemkoPortal/services/portal/internal/handler/http"
	"PemkoPortal/services/portal/internal/middleware"
	"PemkoPortal/services/portal/internal/policy"
)

const (
	serviceName = "portal"
	version     = "1.0.0"
)

func main() {
	configFile := flag.String("config", envOr("PORTAL_CONFIG", "config/portal.yaml"), "path to config file")
	flag.Parse()

	// Инициализация конфигурации
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger, err := logger.NewLogger(logger.Options{
		Environment: cfg.Environment,
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		ServiceName: serviceName,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		if err := appLogger.Sync(); err != nil {
			log.Printf("Error syncing logger: %v", err)
		}
	}()

	// Метрики и трассировка
	metricCollector := metrics.NewMetrics(serviceName)
	shutdownTracing, err := metrics.InitializeOpenTelemetry(serviceName, version)
	if err != nil {
		appLogger.Error("Failed to initialize tracing", logger.Error(err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			appLogger.Warn("Failed to shutdown tracer provider", logger.Error(err))
		}
	}()

	// Клиент backend'а и каталог ролей и прав
	backendClient := backend.NewClient(
		cfg.Backend.BaseURL,
		config.Duration(cfg.Backend.Timeout, 10*time.Second),
		backend.WithLogger(appLogger),
	)
	catalog := authz.NewCatalog(backendClient, config.Duration(cfg.Backend.CatalogTTL, 5*time.Minute), appLogger)

	// Политики доступа разделов
	policies := policy.Default()
	if err := policies.LoadFile(cfg.Session.PoliciesFile); err != nil {
		appLogger.Error("Failed to load access policies",
			logger.String("file", cfg.Session.PoliciesFile),
			logger.Error(err),
		)
		os.Exit(1)
	}
	if cfg.Backend.CatalogToken != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := policies.Validate(ctx, catalog, cfg.Backend.CatalogToken)
		cancel()
		if err != nil {
			appLogger.Error("Access policies do not match backend catalog", logger.Error(err))
			os.Exit(1)
		}
		appLogger.Info("Access policies validated", logger.Strings("policies", policies.Names()))
	}

	healthChecker := health.NewChecker(version, 2*time.Second)
	healthChecker.Register("backend", backendClient.HealthCheck)

	// Rate limiter формы входа: Redis, если включен, иначе в памяти процесса
	var loginLimiter ratelimit.RateLimiter
	if cfg.Redis.Enabled {
		redisCtx, redisCancel := context.WithTimeout(context.Background(), 30*time.Second)
		redisClient, err := pkg_redis.Connect(redisCtx, pkg_redis.FromConfig(cfg.Redis))
		redisCancel()
		if err != nil {
			appLogger.Error("Failed to connect to redis after retries", logger.Error(err))
			os.Exit(1)
		}
		defer redisClient.Close()

		loginLimiter = ratelimit.NewRedisRateLimiter(redisClient.Client)
		healthChecker.Register("redis", redisClient.HealthCheck)
		appLogger.Info("Using redis rate limiter", logger.String("addr", cfg.Redis.Addr))
	} else {
		loginLimiter = ratelimit.NewMemoryRateLimiter()
	}

	// Публикация событий аудита
	var publisher events.Publisher = events.NewLogPublisher(appLogger)
	if cfg.RabbitMQ.Enabled {
		mqCtx, mqCancel := context.WithTimeout(context.Background(), 60*time.Second)
		mqConfig := rabbitmq.FromConfig(cfg.RabbitMQ)
		mqConn, err := rabbitmq.Connect(mqCtx, mqConfig, appLogger)
		mqCancel()
		if err != nil {
			appLogger.Error("Failed to connect to rabbitmq after retries", logger.Error(err))
			os.Exit(1)
		}
		defer mqConn.Close()

		publisher = events.NewAMQPPublisher(rabbitmq.NewProducer(mqConn, mqConfig), mqConfig.RoutingKey)
		healthChecker.Register("rabbitmq", mqConn.HealthCheck)
		appLogger.Info("Publishing audit events to rabbitmq", logger.String("exchange", mqConfig.Exchange))
	}
	auditEvents := events.NewAsync(publisher, 5*time.Second, appLogger,
		events.WithObserver(metricCollector.ObserveAudit),
		events.WithSource(serviceName),
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := auditEvents.Close(ctx); err != nil {
			appLogger.Warn("Audit events still in flight on shutdown", logger.Error(err))
		}
	}()

	// Готовность: каталог загружен, если настроен служебный токен
	var started atomic.Bool
	ready := func() bool {
		if cfg.Backend.CatalogToken != "" {
			return catalog.Loaded()
		}
		return started.Load()
	}

	loginPath := cfg.Session.LoginPath
	guardWait := config.Duration(cfg.Session.GuardWaitTimeout, middleware.DefaultWaitTimeout)

	handler, err := httphandler.NewHandler(httphandler.Dependencies{
		Auth:      backendClient,
		Catalog:   catalog,
		Policies:  policies,
		Validator: validation.NewValidator(),
		Metrics:   metricCollector,
		Logger:    appLogger,
		LoginPath: loginPath,
		HomePath:  cfg.Session.HomePath,
	})
	if err != nil {
		appLogger.Error("Failed to create handler", logger.Error(err))
		os.Exit(1)
	}

	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Sessions: middleware.SessionConfig{
			Cookie: session.CookieConfig{
				Name:        cfg.Session.CookieName,
				Domain:      cfg.Session.CookieDomain,
				Secure:      cfg.Session.CookieSecure,
				RememberFor: config.Duration(cfg.Session.RememberFor, 30*24*time.Hour),
			},
			Identity:          backendClient,
			Events:            auditEvents,
			Metrics:           metricCollector,
			Logger:            appLogger,
			ValidationTimeout: config.Duration(cfg.Session.ValidationTimeout, session.DefaultValidationTimeout),
			WaitTimeout:       guardWait,
			LoginPath:         loginPath,
		},
		LoginLimiter:      loginLimiter,
		LoginPerMinute:    cfg.RateLimiting.LoginPerMinute,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		GuardWait:         guardWait,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		Health:            healthChecker,
		Ready:             ready,
		Metrics:           metricCollector,
		Events:            auditEvents,
		Logger:            appLogger,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		appLogger.Info("Starting portal server",
			logger.String("addr", server.Addr),
			logger.String("backend", cfg.Backend.BaseURL),
		)
		started.Store(true)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Обработка сигналов для graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second))
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server shutdown failed", logger.Error(err))
	}

	appLogger.Info("Server stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
