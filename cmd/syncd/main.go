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

	"go-imsync/internal/api"
	"go-imsync/internal/auth"
	"go-imsync/internal/cache"
	"go-imsync/internal/client"
	"go-imsync/internal/config"
	"go-imsync/internal/metrics"
	"go-imsync/internal/mq"
	"go-imsync/internal/observ"
	httpapi "go-imsync/internal/presentation/http"
	"go-imsync/internal/ratelimit"
	"go-imsync/internal/store"
	"go-imsync/internal/store/mongostore"
	"go-imsync/internal/store/sqlstore"
	"go-imsync/internal/transport/ws"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "syncd:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := observ.NewLogger(cfg.LogEnv, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.EnableMetrics {
		metrics.Init()
	}

	userID, err := auth.UserIDFromToken(cfg.Token)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend := api.New(api.Options{
		BaseURL: cfg.APIBaseURL,
		Token:   auth.StripBearer(cfg.Token),
		Timeout: cfg.HTTPTimeout,
		Logger:  log.Named("api"),
	})

	sess, err := ws.Connect(ctx, ws.Options{
		URL:            cfg.WSURL,
		ReconnectDelay: cfg.ReconnectDelay,
		HeartbeatOut:   cfg.HeartbeatOut,
		HeartbeatIn:    cfg.HeartbeatIn,
		Logger:         log.Named("ws"),
	}, ws.Credentials{Token: auth.StripBearer(cfg.Token)})
	if err != nil {
		return err
	}
	defer sess.Close()

	// 发送限流：配置了 Redis 时多实例共享令牌桶
	var limiter ratelimit.Limiter = ratelimit.NewLocal(float64(cfg.SendQPS), cfg.SendBurst)
	var (
		sinks      []client.Sink
		seqSources []httpapi.ReadSeqSource
		roomsCache client.RoomsCache
	)
	if cfg.RedisAddr != "" {
		cache.InitRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		rdb := cache.Client()
		defer rdb.Close()
		limiter = ratelimit.NewRedisBucket(rdb, cfg.SendQPS, cfg.SendBurst, log)
		proj := cache.NewProjection(rdb)
		sinks = append(sinks, proj)
		seqSources = append(seqSources, proj)
		roomsCache = proj
	}

	if cfg.MySQLDSN != "" {
		db, err := sqlstore.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		defer db.Close()
		rs := store.NewReceiptStore(db)
		if err := rs.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("mysql schema: %w", err)
		}
		sinks = append(sinks, rs)
		seqSources = append(seqSources, rs)
	}

	if cfg.MongoURI != "" {
		mdb, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		defer mongostore.Disconnect(context.Background(), mdb)
		arch := store.NewMessageArchive(mdb)
		if err := arch.EnsureIndexes(ctx); err != nil {
			log.Warn("mongo index creation failed", zap.Error(err))
		}
		sinks = append(sinks, arch)
	}

	if cfg.KafkaBrokers != "" {
		p, err := mq.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaProjectionTopic)
		if err != nil {
			log.Warn("kafka producer disabled", zap.Error(err))
		} else {
			defer p.Close()
			sinks = append(sinks, p)
		}
	}

	if cfg.NATSURL != "" {
		np, err := mq.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, log.Named("nats"))
		if err != nil {
			log.Warn("nats publisher disabled", zap.Error(err))
		} else {
			defer np.Close()
			sinks = append(sinks, np)
		}
	}

	c := client.New(sess, backend, client.Options{
		UserID:                userID,
		PageSize:              cfg.PageSize,
		EventQueueSize:        cfg.EventQueueSize,
		NotificationQueueSize: cfg.NotificationQueueSize,
		FetchTimeout:          cfg.HTTPTimeout,
		ViewMinDuration:       time.Duration(cfg.ViewHistoryMinSeconds) * time.Second,
		Limiter:               limiter,
		Sinks:                 sinks,
		RoomsCache:            roomsCache,
		Logger:                log,
	})
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Close()

	if cfg.LogEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	h := httpapi.NewSyncHandler(c)
	r.GET("/healthz", h.Health)
	if cfg.EnableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	h.Register(r)
	httpapi.NewProjectionHandler(userID, seqSources...).Register(r)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info("syncd started",
		zap.Int64("user", userID),
		zap.String("listen", cfg.ListenAddr),
		zap.Int("sinks", len(sinks)))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
