package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/liveness-check/internal/auth"
	"github.com/example/liveness-check/internal/config"
	"github.com/example/liveness-check/internal/grpcclient"
	"github.com/example/liveness-check/internal/handlers"
	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/repository"
	"github.com/example/liveness-check/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.LoadService()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.SecretProvider != "env" {
		secrets, err := config.NewSecretSource(cfg.SecretProvider)
		if err != nil {
			logger.Fatal("invalid secret provider", zap.Error(err))
		}
		if err := cfg.ResolveSecrets(ctx, secrets); err != nil {
			logger.Fatal("failed to resolve secrets", zap.Error(err))
		}
		logger.Info("signing secrets resolved", zap.String("provider", secrets.Name()))
	}

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewLivenessRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)

	scorerClient, conn, err := grpcclient.DialScorer(ctx, cfg.ScorerAddr, logger)
	if err != nil {
		logger.Fatal("failed to connect to liveness scorer", zap.Error(err))
	}
	defer conn.Close()

	cache := usecase.NewRedisCache(redisClient)
	issuer := auth.NewSessionTokenIssuer(cfg.SessionTokenSecret, cfg.SessionTokenTTL)
	limit := usecase.TokenLimit{Requests: cfg.TokenRateLimit, Window: cfg.TokenRateWindow}
	uc := usecase.NewLivenessUseCase(repo, cache, scorerClient, issuer, limit, logger)

	r := gin.Default()
	handlers.RegisterRoutes(r, uc,
		auth.DeviceKeyMiddleware(cfg.DeviceKeys),
		auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("liveness verification service listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
