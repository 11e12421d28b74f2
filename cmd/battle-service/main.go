package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codebattle/internal/auth"
	"codebattle/internal/battle/controller"
	"codebattle/internal/battle/repository"
	"codebattle/internal/battle/service"
	"codebattle/internal/common/cache"
	"codebattle/internal/common/db"
	commonmw "codebattle/internal/common/http/middleware"
	"codebattle/internal/common/mq"
	"codebattle/internal/common/storage"
	"codebattle/internal/judge"
	"codebattle/internal/judge/executor"
	"codebattle/internal/problem"
	"codebattle/internal/realtime"
	"codebattle/internal/realtime/session"
	"codebattle/internal/stats"
	"codebattle/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/battle_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	store := repository.NewMySQLStore(mysqlDB)

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()
	broadcaster := realtime.NewRedisBroadcaster(redisCache)

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}
	problems, err := problem.NewMinIOStore(objStorage, appCfg.Problems)
	if err != nil {
		logger.Error(context.Background(), "init problem store failed", zap.Error(err))
		return
	}

	statsPublisher, closeProducer, err := buildStatsPublisher(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka producer failed", zap.Error(err))
		return
	}
	if closeProducer != nil {
		defer closeProducer()
	}

	sandbox, err := buildExecutor(appCfg.Judge)
	if err != nil {
		logger.Error(context.Background(), "init sandbox executor failed", zap.Error(err))
		return
	}

	coordinator := service.NewCoordinator(store, broadcaster, statsPublisher)
	scorer := service.NewScorer(store, problems, judge.New(sandbox), broadcaster, coordinator)
	requests := service.NewRequestService(store, problems, broadcaster, coordinator)
	verifier := auth.NewVerifier(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer)

	pool, err := ants.NewPool(appCfg.Judge.PoolSize)
	if err != nil {
		logger.Error(context.Background(), "init judge pool failed", zap.Error(err))
		return
	}
	defer pool.Release()

	wsHandler := session.NewHandler(coordinator, scorer, broadcaster, verifier, pool, appCfg.Session.toSessionConfig())
	httpServer := buildHTTPServer(appCfg.Server, requests, verifier, wsHandler)

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runSweeper(shutdownCtx, requests, redisCache, appCfg.Sweep.Interval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "battle http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildStatsPublisher(cfg KafkaConfig) (stats.Publisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		logger.Warn(context.Background(), "kafka brokers not configured, stats events disabled")
		return stats.NopPublisher{}, nil, nil
	}
	producer, err := mq.NewKafkaProducer(cfg.toMQConfig())
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		_ = producer.Close()
	}
	return stats.NewKafkaPublisher(producer, cfg.StatsTopic), closer, nil
}

func buildExecutor(cfg JudgeConfig) (executor.Executor, error) {
	registry := executor.NewRegistry()
	switch strings.ToLower(cfg.Backend) {
	case "docker":
		dockerExec, err := executor.NewDockerExecutor(registry)
		if err != nil {
			return nil, err
		}
		if cfg.PullImages {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := dockerExec.EnsureImages(ctx); err != nil {
				return nil, err
			}
		}
		return dockerExec, nil
	default:
		return executor.NewProcessExecutor(registry), nil
	}
}

func buildHTTPServer(cfg ServerConfig, requests *service.RequestService, verifier *auth.Verifier, wsHandler *session.Handler) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	battleController := controller.NewBattleController(requests)
	api := router.Group("/api/v1/battles")
	api.Use(controller.AuthMiddleware(verifier))
	api.POST("/request", battleController.CreateRequest)
	api.POST("/request/:id/respond", battleController.Respond)
	api.GET("/request/inbox", battleController.Inbox)
	api.GET("/my", battleController.MyBattles)
	api.GET("/:id", battleController.GetBattle)

	router.GET("/ws/battles/:id", wsHandler.Serve)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

const sweepLockKey = "battle:sweep:lock"

// runSweeper clears stale requests and battles in the background. The
// request path also sweeps, so this only bounds how long orphaned state
// can linger on an idle instance. A redis lock keeps a fleet from
// sweeping in lockstep; every transition underneath is a conditional
// update anyway, so a lost lock is just saved work.
func runSweeper(ctx context.Context, requests *service.RequestService, locks cache.BasicOps, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acquired, err := locks.SetNX(ctx, sweepLockKey, "1", interval)
			if err != nil {
				logger.Warn(ctx, "sweep lock failed", zap.Error(err))
				continue
			}
			if !acquired {
				continue
			}
			requests.Sweep(ctx)
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
