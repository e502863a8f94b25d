package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/isopen-io/meeshy-sub020/internal/app/bridge"
	"github.com/isopen-io/meeshy-sub020/internal/app/registry"
	"github.com/isopen-io/meeshy-sub020/internal/app/server"
	"github.com/isopen-io/meeshy-sub020/internal/app/worker"
	"github.com/isopen-io/meeshy-sub020/internal/config"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/internal/core/services"
	"github.com/isopen-io/meeshy-sub020/internal/platform/metrics"
	"github.com/isopen-io/meeshy-sub020/internal/platform/telemetry"
	"github.com/isopen-io/meeshy-sub020/internal/plugins/libretranslate"
	"github.com/isopen-io/meeshy-sub020/internal/plugins/postgres"
	"github.com/isopen-io/meeshy-sub020/internal/plugins/push"
	redisPlugin "github.com/isopen-io/meeshy-sub020/internal/plugins/redis"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic("config load failed: " + err.Error())
	}

	log := logging.NewLogger(cfg.Service.Name, cfg.Logger.Level, cfg.Logger.Format)
	log.Info("starting application", "env", cfg.Service.Env)

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", logging.Err(err))
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", logging.Err(err))
		}
	}()

	// Infra
	pdb, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres connection failed", "dsn", cfg.Postgres.DSN, logging.Err(err))
		return
	}
	defer pdb.Close()
	log.Info("postgres connected")

	rdb, err := redisPlugin.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, logging.Err(err))
		return
	}
	defer rdb.Close()
	log.Info("redis connected")

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promRegistry)

	instanceID := cfg.Service.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	// Adapters
	msgRepo := postgres.NewMessageRepo(pdb)
	convRepo := postgres.NewConversationRepo(pdb)
	memberRepo := postgres.NewMemberRepo(pdb)
	mentionRepo := postgres.NewMentionRepo(pdb)
	translationRepo := postgres.NewTranslationRepo(pdb)
	txManager := postgres.NewTxManager(pdb)

	presStore := redisPlugin.NewPresenceStore(rdb)
	jobQueue := redisPlugin.NewJobQueue(rdb, log)
	translationCache, err := redisPlugin.NewTranslationCache(rdb, cfg.Translation.HotCacheSize, cfg.Translation.CacheTTL)
	if err != nil {
		log.Error("translation cache init failed", logging.Err(err))
		return
	}

	translator := libretranslate.NewClient(cfg.Translation)
	notifier := push.NewDispatcher(cfg.Push)

	// Registry and cross-instance fanout
	policy := domain.ParseSessionPolicy(cfg.Auth.SessionPolicy)
	hub := registry.NewHub(log, policy, m)
	fanout := bridge.New(log, hub, rdb, instanceID)
	go func() {
		if err := fanout.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("fanout bridge stopped", logging.Err(err))
		}
	}()

	// Core services
	clk := clock.New()
	tokenSvc := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	typing := services.NewTypingTracker(log, fanout, clk, cfg.Presence.TypingWindow)
	rooms := services.NewRoomService(log, convRepo, memberRepo, fanout, presStore, typing, clk,
		cfg.Presence.HeartbeatInterval, cfg.Presence.OnlineTTL)

	coordinator := services.NewCoordinator(log, translationCache, jobQueue, fanout, translationRepo, m, clk,
		services.CoordinatorConfig{
			Stream:      cfg.Translation.Stream,
			MaxLength:   cfg.Translation.MaxLength,
			MaxAttempts: cfg.Translation.MaxAttempts,
			RetryBase:   cfg.Translation.RetryBase,
		})

	bus := services.NewPostCommitBus(log, 256,
		&services.MentionHandler{Mentions: mentionRepo},
		&services.TranslationHandler{Coordinator: coordinator},
		&services.NotificationHandler{Notifier: notifier, Registry: fanout},
		&services.StatsHandler{Conversations: convRepo},
	)
	go func() {
		if err := bus.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("post-commit bus stopped", logging.Err(err))
		}
	}()

	pipeline := services.NewPipeline(log, msgRepo, convRepo, memberRepo, translationRepo,
		txManager, fanout, rooms, bus, coordinator, clk, m,
		cfg.Pipeline.MaxMessageLength, cfg.Pipeline.PersistTimeout)

	// Translation worker pool
	wrkr := worker.NewTranslationWorker(log, jobQueue, translator, coordinator,
		cfg.Translation.Stream, cfg.Translation.Group, cfg.Translation.CallTimeout)
	go func() {
		if err := wrkr.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("translation worker stopped", logging.Err(err))
		}
	}()

	// Server
	srv := server.NewServer(log, cfg.Service.Addr, cfg.Service.Name, tokenSvc,
		pipeline, rooms, typing, fanout, convRepo, policy, promRegistry)
	if err := srv.Start(ctx); err != nil {
		log.Error("server stopped", logging.Err(err))
	}
	log.Info("shutdown complete")
}
