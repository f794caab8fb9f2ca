// Command server starts the MediaForge delivery API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mediaforge/internal/api"
	"mediaforge/internal/observability/logging"
	"mediaforge/internal/observability/metrics"
	"mediaforge/internal/server"
	"mediaforge/internal/storage"
	"mediaforge/internal/transcode"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	apiToken := flag.String("api-token", "", "shared bearer token for collaborator services")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	mutationLimit := flag.Int("rate-mutation-limit", 0, "maximum media mutations per window for a single IP")
	mutationWindow := flag.Duration("rate-mutation-window", 0, "window for counting media mutations")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed mutation throttling")
	redisUsername := flag.String("rate-redis-username", "", "Redis username for distributed mutation throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed mutation throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix")
	objectTimeout := flag.Duration("object-timeout", 0, "timeout for object storage requests")
	cleanupInterval := flag.Duration("cleanup-interval", time.Hour, "interval between cleanup passes (0 disables)")
	cleanupRetention := flag.Duration("cleanup-retention", 24*time.Hour, "how long failed records are kept before purging")
	staleThreshold := flag.Duration("stale-threshold", 6*time.Hour, "age after which an in-flight transcode counts as stale")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIAFORGE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIAFORGE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("MEDIAFORGE_ADDR"), ":8080")
	token := firstNonEmpty(*apiToken, os.Getenv("MEDIAFORGE_API_TOKEN"))
	if token == "" {
		logger.Error("no API token configured: set --api-token or MEDIAFORGE_API_TOKEN")
		os.Exit(1)
	}

	var options []storage.Option
	objectCfg := storage.ObjectStorageConfig{
		Endpoint:       firstNonEmpty(*objectEndpoint, os.Getenv("MEDIAFORGE_OBJECT_ENDPOINT")),
		Region:         firstNonEmpty(*objectRegion, os.Getenv("MEDIAFORGE_OBJECT_REGION")),
		AccessKey:      firstNonEmpty(*objectAccessKey, os.Getenv("MEDIAFORGE_OBJECT_ACCESS_KEY")),
		SecretKey:      firstNonEmpty(*objectSecretKey, os.Getenv("MEDIAFORGE_OBJECT_SECRET_KEY")),
		Bucket:         firstNonEmpty(*objectBucket, os.Getenv("MEDIAFORGE_OBJECT_BUCKET")),
		UseSSL:         resolveBool(*objectUseSSL, "MEDIAFORGE_OBJECT_USE_SSL"),
		Prefix:         firstNonEmpty(*objectPrefix, os.Getenv("MEDIAFORGE_OBJECT_PREFIX")),
		RequestTimeout: resolveDuration(*objectTimeout, "MEDIAFORGE_OBJECT_TIMEOUT", 0),
	}
	if objectCfg.Endpoint != "" || objectCfg.Bucket != "" {
		options = append(options, storage.WithObjectStorage(objectCfg))
	}

	resolvedDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("MEDIAFORGE_STORAGE_DRIVER"), resolvedDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("MEDIAFORGE_DATA"))
		store, err = storage.NewJSONRepository(dataFile, options...)
	case "postgres":
		if resolvedDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		pgOptions := append([]storage.Option(nil), options...)
		maxConns := resolveInt(*postgresMaxConns, "MEDIAFORGE_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "MEDIAFORGE_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "MEDIAFORGE_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "MEDIAFORGE_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "MEDIAFORGE_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "MEDIAFORGE_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("MEDIAFORGE_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(resolvedDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	transcodeCfg, err := transcode.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load transcode configuration", "error", err)
		os.Exit(1)
	}
	provider := transcode.NewHTTPProvider(transcodeCfg.ProviderBaseURL, transcodeCfg.ProviderToken, &http.Client{
		Timeout: transcodeCfg.RequestTimeout,
	})
	orchestrator := transcode.NewOrchestrator(store, provider, transcodeCfg, logging.WithComponent(logger, "transcode"), recorder)
	handler := api.NewHandler(store, orchestrator, transcodeCfg.MaxRetries, logging.WithComponent(logger, "api"))

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("MEDIAFORGE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MEDIAFORGE_TLS_KEY")),
		},
		APIToken: token,
		RateLimit: server.RateLimitConfig{
			GlobalRPS:      resolveFloat(*globalRPS, "MEDIAFORGE_RATE_GLOBAL_RPS"),
			GlobalBurst:    resolveInt(*globalBurst, "MEDIAFORGE_RATE_GLOBAL_BURST"),
			MutationLimit:  resolveInt(*mutationLimit, "MEDIAFORGE_RATE_MUTATION_LIMIT"),
			MutationWindow: resolveDuration(*mutationWindow, "MEDIAFORGE_RATE_MUTATION_WINDOW", time.Minute),
			Redis: server.RedisConfig{
				Addr:     firstNonEmpty(*redisAddr, os.Getenv("MEDIAFORGE_RATE_REDIS_ADDR")),
				Username: firstNonEmpty(*redisUsername, os.Getenv("MEDIAFORGE_RATE_REDIS_USERNAME")),
				Password: firstNonEmpty(*redisPassword, os.Getenv("MEDIAFORGE_RATE_REDIS_PASSWORD")),
				Timeout:  resolveDuration(*redisTimeout, "MEDIAFORGE_RATE_REDIS_TIMEOUT", 2*time.Second),
			},
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	cleanup := &cleanupWorker{
		store:      store,
		logger:     logging.WithComponent(logger, "cleanup"),
		metrics:    recorder,
		interval:   resolveDuration(*cleanupInterval, "MEDIAFORGE_CLEANUP_INTERVAL", 0),
		retention:  resolveDuration(*cleanupRetention, "MEDIAFORGE_CLEANUP_RETENTION", 24*time.Hour),
		staleAfter: resolveDuration(*staleThreshold, "MEDIAFORGE_STALE_THRESHOLD", 6*time.Hour),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("MediaForge API listening", "addr", listenAddr, "storage", driver)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return cleanup.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	exitCode := 0
	if err := group.Wait(); err != nil {
		logger.Error("server error", "error", err)
		exitCode = 1
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := store.Close(closeCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
	os.Exit(exitCode)
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/media.json"
}

func resolvePostgresDSN(flagValue string) string {
	return firstNonEmpty(flagValue, os.Getenv("MEDIAFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
