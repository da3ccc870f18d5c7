package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/api"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/config"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/mailbox"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/metrics"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/otp"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/outcome"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/ratelimit"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/store"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/vault"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "."
	}
	if err := config.Load(configPath); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.Get()

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := log.New(os.Stdout, "otphub: ", log.LstdFlags|log.Lmsgprefix)

	db, err := store.Open(cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	configStore := store.New(db)

	secrets, err := vault.New(cfg.Vault.MasterKey, cfg.Vault.KeySalt)
	if err != nil {
		log.Fatalf("Failed to initialize vault: %v", err)
	}

	var limiter ratelimit.Limiter
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	} else {
		logger.Printf("redis disabled, rate limiting in process memory")
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	dialers := mailbox.NewDialerSet(
		mailbox.NewIMAPDialer(mailbox.WithIMAPDialTimeout(cfg.Retrieval.DialTimeout), mailbox.WithIMAPLogger(logger)),
		mailbox.NewPOP3Dialer(mailbox.WithPOP3DialTimeout(cfg.Retrieval.DialTimeout), mailbox.WithPOP3Logger(logger)),
	)

	recorder := outcome.NewAsyncRecorder(outcome.MultiSink{
		store.NewOutcomeSink(db),
		outcome.LogSink{Logger: logger},
		metrics.OutcomeSink{},
	}, logger)
	defer recorder.Close()

	retriever := otp.NewRetriever(configStore, limiter, secrets, dialers, recorder, otp.Options{
		DefaultPattern: cfg.Retrieval.DefaultPattern,
		FetchCap:       cfg.Retrieval.FetchCap,
		SearchWindow:   time.Duration(cfg.Retrieval.SearchWindowHours) * time.Hour,
		PatternTimeout: cfg.Retrieval.PatternTimeout,
		RequestTimeout: cfg.Retrieval.RequestTimeout,
	}, otp.WithLogger(logger))

	jwtManager := api.NewJWTManager(cfg.Auth.JWT.Secret, 24*time.Hour)
	server := api.NewServer(retriever, otp.TOTPDefaults{
		Digits:    cfg.TOTP.DefaultDigits,
		Period:    cfg.TOTP.DefaultPeriod,
		Algorithm: cfg.TOTP.DefaultAlgorithm,
	}, jwtManager, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("forced shutdown: %v", err)
	}
}
