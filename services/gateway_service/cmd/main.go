package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/EthanQC/guildgate/pkg/jwt"
	"github.com/EthanQC/guildgate/pkg/zlog"
	httpapi "github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/in/http"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/in/ws"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/out/memory"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/out/metrics"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/out/mq"
	mysqlRepo "github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/out/mysql"
	redisRepo "github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/out/redis"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/out/token"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/application"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/config"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/session"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

// directory 成员关系与权限快照由同一个只读数据源提供
type directory interface {
	out.MembershipRepository
	out.PermissionRepository
}

func main() {
	env := config.Env()
	cfg, err := config.Load(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	syncLog := zlog.MustInitGlobal(cfg.Log)
	defer syncLog()

	logger := zap.L()
	logger.Info("gateway_service starting", zap.String("env", env))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	zlog.RegisterMetrics(reg)
	gwMetrics := metrics.NewPrometheus(reg)

	// 存储
	store, closeStore, err := initPresenceStore(cfg)
	if err != nil {
		logger.Fatal("Failed to init presence store", zap.Error(err))
	}
	defer closeStore()

	dir, err := initDirectory(cfg)
	if err != nil {
		logger.Fatal("Failed to init directory", zap.Error(err))
	}

	// 实例标识：主机名可能在重启后复用，追加随机后缀
	hostname, _ := os.Hostname()
	if cfg.Server.AdvertiseAddr != "" {
		hostname = cfg.Server.AdvertiseAddr
	}
	instanceID := hostname + "-" + uuid.NewString()[:8]

	// 用例层
	presenceOpts := []application.PresenceOption{
		application.WithInstanceID(instanceID),
		application.WithSnapshotLimits(cfg.Presence.SnapshotMaxAge, cfg.Presence.SnapshotMaxCount),
		application.WithPresenceMetrics(gwMetrics),
		application.WithRetryPolicy(application.RetryPolicy{
			MaxTries:        cfg.Retry.MaxTries,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		}),
	}
	var publisher out.EventPublisher
	if cfg.Kafka.Enabled {
		publisher = mq.NewKafkaPresencePublisher(mq.NewKafkaWriter(cfg.Kafka.Brokers), cfg.Kafka.EventsTopic)
		presenceOpts = append(presenceOpts, application.WithPublisher(publisher))
	}
	presence := application.NewPresenceService(store, dir, presenceOpts...)

	jwtManager := jwt.NewManager(cfg.JWT.Secret, jwt.WithIssuer(cfg.JWT.Issuer), jwt.WithLeeway(cfg.JWT.Leeway))
	connManager := ws.NewConnectionManager()
	lifecycle := application.NewLifecycleService(
		token.NewJWTCodec(jwtManager),
		connManager,
		presence,
		session.Timing{WarningLead: cfg.Session.WarningLead, Grace: cfg.Session.Grace},
		application.WithLifecycleMetrics(gwMetrics),
	)
	router := application.NewRouterService(
		presence,
		application.NewPermissionService(dir),
		dir,
		connManager,
		lifecycle,
		application.WithFanoutWorkers(cfg.Router.FanoutWorkers),
		application.WithRouterMetrics(gwMetrics),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 先心跳一次再接入连接，其他实例才不会把本实例的连接当成残留
	if err := presence.Heartbeat(ctx); err != nil {
		logger.Fatal("Failed to register presence heartbeat", zap.Error(err))
	}
	go presence.Run(ctx, cfg.Presence.HeartbeatInterval)
	logger.Info("Presence heartbeat started", zap.String("instance", instanceID))

	// Kafka 消费者；每个实例独立消费组，保证所有实例都能收到全部事件
	var consumer out.EventConsumer
	if cfg.Kafka.Enabled {
		consumer, err = mq.NewKafkaEventConsumer(mq.ConsumerConfig{
			Brokers:      cfg.Kafka.Brokers,
			GroupID:      cfg.ConsumerGroupID(hostname),
			EventsTopic:  cfg.Kafka.EventsTopic,
			SessionTopic: cfg.Kafka.SessionTopic,
			OffsetNewest: cfg.Kafka.OffsetNewest,
			KafkaVersion: cfg.Kafka.Version,
		}, router)
		if err != nil {
			logger.Fatal("Failed to init kafka consumer", zap.Error(err))
		}
		if err := consumer.Start(ctx); err != nil {
			logger.Fatal("Failed to start kafka consumer", zap.Error(err))
		}
	}

	// HTTP / WebSocket
	wsServer := ws.NewServer(lifecycle, ws.Options{
		ReadBufferSize:  cfg.WS.ReadBufferSize,
		WriteBufferSize: cfg.WS.WriteBufferSize,
		AllowedOrigins:  cfg.WS.AllowedOrigins,
	})
	deps := httpapi.Deps{
		WebSocket: wsServer.HandleConnection,
		Registry:  connManager,
		Sessions:  lifecycle,
		Gatherer:  reg,
	}
	if cfg.RateLimit.Enabled {
		limiter := httpapi.NewRateLimiter(httpapi.RateLimiterConfig{
			GlobalQPS:  cfg.RateLimit.Global,
			IPQPSLimit: cfg.RateLimit.PerIP,
			BurstSize:  cfg.RateLimit.Burst,
			IdleTTL:    cfg.RateLimit.IdleTTL,
		})
		go limiter.Run(ctx, 10*time.Minute)
		deps.Limiter = limiter
	}

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     httpapi.NewRouter(deps),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		logger.Info("Gateway server starting", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Warn("Kafka consumer stop error", zap.Error(err))
		}
	}

	// 被劫持的 WebSocket 连接不归 http.Server 管，先停止接入再逐个关闭
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	lifecycle.Shutdown(shutdownCtx)

	if publisher != nil {
		if err := presence.Drain(shutdownCtx); err != nil {
			logger.Warn("Presence events not fully published", zap.Error(err))
		}
		if err := publisher.Close(); err != nil {
			logger.Warn("Kafka publisher close error", zap.Error(err))
		}
	}

	logger.Info("Server exited properly")
}

func initPresenceStore(cfg *config.Config) (out.PresenceStore, func(), error) {
	if cfg.Storage.Presence == config.DriverMemory {
		return memory.NewPresenceStore(memory.WithHeartbeatTTL(cfg.Presence.TTL)), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, err
	}
	return redisRepo.NewPresenceStore(client, cfg.Redis.KeyPrefix, cfg.Presence.TTL), func() { _ = client.Close() }, nil
}

func initDirectory(cfg *config.Config) (directory, error) {
	if cfg.Storage.Directory == config.DriverMemory {
		zap.L().Warn("directory driver is memory, guild data starts empty")
		return memory.NewDirectory(), nil
	}

	database, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return mysqlRepo.NewDirectoryRepositoryMySQL(database), nil
}
