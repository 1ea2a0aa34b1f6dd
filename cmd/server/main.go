// Command server starts the coursestream transcoding API and streaming proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"coursestream/internal/api"
	"coursestream/internal/auth"
	"coursestream/internal/hls"
	"coursestream/internal/observability/logging"
	"coursestream/internal/observability/metrics"
	"coursestream/internal/server"
	"coursestream/internal/storage"
	"coursestream/internal/transcode"
)

const defaultStreamRoute = "/stream"

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataRoot := flag.String("data-root", "", "root directory for job records and encoded media")
	jobsRoot := flag.String("jobs-root", "", "directory for job records (overrides data-root)")
	mediaRoot := flag.String("media-root", "", "directory for encoded media (overrides data-root)")
	storageDriver := flag.String("storage-driver", "", "job store driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the job store")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	tokenSecret := flag.String("token-secret", "", "secret used to sign playback capability tokens")
	tokenTTL := flag.Duration("token-ttl", 0, "lifetime of issued playback tokens")
	encoderBinary := flag.String("encoder", "", "path to the encoder binary")
	maxConcurrent := flag.Int("max-concurrent-encodes", 0, "maximum encoder processes running at once")
	encodeTimeout := flag.Duration("encode-timeout", 0, "deadline for a single encode before it is killed")
	lockDriver := flag.String("lock-driver", "", "conversion lock driver (memory or redis)")
	lockRedisAddr := flag.String("lock-redis-addr", "", "Redis address for distributed conversion locks")
	lockRedisPassword := flag.String("lock-redis-password", "", "Redis password for distributed conversion locks")
	disableRewrite := flag.Bool("disable-playlist-rewrite", false, "serve playlists verbatim instead of routing URIs through the proxy")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	tokenLimit := flag.Int("rate-token-limit", 0, "maximum token issuances per window for a single IP")
	tokenWindow := flag.Duration("rate-token-window", 0, "window for counting token issuances")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed token throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed token throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("COURSESTREAM_LOG_LEVEL"))})
	recorder := metrics.Default()

	layout := resolveLayout(*dataRoot, *jobsRoot, *mediaRoot)

	secret := firstNonEmpty(*tokenSecret, os.Getenv("COURSESTREAM_TOKEN_SECRET"))
	codec, err := auth.NewCodec(secret)
	if err != nil {
		logger.Error("failed to configure token codec", "error", err)
		os.Exit(1)
	}

	driver := strings.ToLower(firstNonEmpty(*storageDriver, os.Getenv("COURSESTREAM_STORAGE_DRIVER"), "json"))
	var (
		store       storage.Store
		storeCloser func(context.Context) error
	)
	switch driver {
	case "json":
		jsonStore, err := storage.NewJSONStore(layout)
		if err != nil {
			logger.Error("failed to open job store", "error", err)
			os.Exit(1)
		}
		store = jsonStore
	case "postgres":
		dsn := firstNonEmpty(*postgresDSN, os.Getenv("COURSESTREAM_POSTGRES_DSN"))
		if dsn == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pgStore, err := storage.NewPostgresStore(bootCtx, storage.PostgresConfig{
			DSN:             dsn,
			MaxConnections:  int32(resolveInt(*postgresMaxConns, "COURSESTREAM_POSTGRES_MAX_CONNS")),
			MinConnections:  int32(resolveInt(*postgresMinConns, "COURSESTREAM_POSTGRES_MIN_CONNS")),
			AcquireTimeout:  resolveDuration(*postgresAcquireTimeout, "COURSESTREAM_POSTGRES_ACQUIRE_TIMEOUT", 0),
			ApplicationName: firstNonEmpty(*postgresAppName, os.Getenv("COURSESTREAM_POSTGRES_APP_NAME")),
		}, layout)
		cancel()
		if err != nil {
			logger.Error("failed to open job store", "error", err)
			os.Exit(1)
		}
		store = pgStore
		storeCloser = pgStore.Close
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}

	var locker transcode.Locker
	switch strings.ToLower(firstNonEmpty(*lockDriver, os.Getenv("COURSESTREAM_LOCK_DRIVER"), "memory")) {
	case "memory":
		locker = transcode.NewMemoryLocker()
	case "redis":
		locker, err = transcode.NewRedisLocker(transcode.RedisLockerConfig{
			Addr:     firstNonEmpty(*lockRedisAddr, os.Getenv("COURSESTREAM_LOCK_REDIS_ADDR")),
			Password: firstNonEmpty(*lockRedisPassword, os.Getenv("COURSESTREAM_LOCK_REDIS_PASSWORD")),
		})
		if err != nil {
			logger.Error("failed to configure conversion lock", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("unsupported lock driver", "driver", *lockDriver)
		os.Exit(1)
	}

	orchestrator, err := transcode.New(transcode.Config{
		Store:         store,
		Layout:        layout,
		EncoderBinary: firstNonEmpty(*encoderBinary, os.Getenv("COURSESTREAM_ENCODER")),
		Locker:        locker,
		MaxConcurrent: int64(resolveInt(*maxConcurrent, "COURSESTREAM_MAX_CONCURRENT_ENCODES")),
		EncodeTimeout: resolveDuration(*encodeTimeout, "COURSESTREAM_ENCODE_TIMEOUT", 0),
		Logger:        logging.WithComponent(logger, "transcode"),
		Metrics:       recorder,
	})
	if err != nil {
		logger.Error("failed to configure orchestrator", "error", err)
		os.Exit(1)
	}

	handler := &api.Handler{
		Store:            store,
		Orchestrator:     orchestrator,
		Codec:            codec,
		Layout:           layout,
		TokenTTL:         resolveDuration(*tokenTTL, "COURSESTREAM_TOKEN_TTL", 0),
		Logger:           logging.WithComponent(logger, "api"),
		Metrics:          recorder,
		Router:           hls.Router{StreamRoute: defaultStreamRoute},
		RewritePlaylists: !resolveBool(*disableRewrite, "COURSESTREAM_DISABLE_PLAYLIST_REWRITE"),
	}

	listenAddr := firstNonEmpty(*addr, os.Getenv("COURSESTREAM_ADDR"), "127.0.0.1:8080")
	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("COURSESTREAM_TLS_CERT")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("COURSESTREAM_TLS_KEY")),
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS:  tlsCfg,
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "COURSESTREAM_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "COURSESTREAM_RATE_GLOBAL_BURST"),
			TokenLimit:    resolveInt(*tokenLimit, "COURSESTREAM_RATE_TOKEN_LIMIT"),
			TokenWindow:   resolveDuration(*tokenWindow, "COURSESTREAM_RATE_TOKEN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("COURSESTREAM_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("COURSESTREAM_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "COURSESTREAM_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS:    server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("COURSESTREAM_CORS_ORIGINS")))},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("coursestream listening", "addr", listenAddr)
	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	runErr := srv.Run(runCtx)
	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		logger.Error("server error", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := orchestrator.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop orchestrator", "error", err)
	}
	if storeCloser != nil {
		if err := storeCloser(ctx); err != nil {
			logger.Warn("failed to close job store", "error", err)
		}
	}
	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		os.Exit(1)
	}
}

func resolveLayout(dataRoot, jobsRoot, mediaRoot string) storage.Layout {
	root := firstNonEmpty(dataRoot, os.Getenv("COURSESTREAM_DATA_ROOT"), "data")
	layout := storage.Layout{
		JobsRoot:  filepath.Join(root, "jobs"),
		MediaRoot: filepath.Join(root, "media"),
	}
	if v := firstNonEmpty(jobsRoot, os.Getenv("COURSESTREAM_JOBS_ROOT")); v != "" {
		layout.JobsRoot = v
	}
	if v := firstNonEmpty(mediaRoot, os.Getenv("COURSESTREAM_MEDIA_ROOT")); v != "" {
		layout.MediaRoot = v
	}
	return layout
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

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if parsed, err := strconv.ParseFloat(env, 64); err == nil {
			return parsed
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if parsed, err := strconv.Atoi(env); err == nil {
			return parsed
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if parsed, err := time.ParseDuration(env); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(env); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if parsed, err := strconv.ParseBool(env); err == nil {
			return parsed
		}
	}
	return false
}
