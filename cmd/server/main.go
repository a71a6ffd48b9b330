package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escorte/internal/audit"
	"escorte/internal/ledger"
	ledgerhandler "escorte/internal/ledger/handler"
	"escorte/internal/mission"
	missionhandler "escorte/internal/mission/handler"
	"escorte/internal/modification"
	modificationhandler "escorte/internal/modification/handler"
	"escorte/internal/notification"
	"escorte/internal/platform/config"
	"escorte/internal/platform/httpserver"
	"escorte/internal/platform/logger"
	"escorte/internal/platform/metrics"
	"escorte/internal/platform/middleware"
	"escorte/internal/platform/postgres"
	"escorte/internal/platform/redis"
	"escorte/internal/sysparam"
	sysparamhandler "escorte/internal/sysparam/handler"
	httptransport "escorte/internal/transport/http"
	"escorte/pkg/platform/tx"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()
	runner := &tx.SQLRunner{DB: db}
	jwtValidator := middleware.NewHMACValidator(cfg.JWTSigningKey)

	auditInbox := make(chan audit.Event, 256)
	auditWorker := audit.NewWorker(audit.NewPostgres(db), auditInbox, log)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()
	recorder := audit.NewRecorder(auditInbox, log)

	sysparamOpts := []sysparam.Option{sysparam.WithLogger(log)}
	if redisClient != nil {
		sysparamOpts = append(sysparamOpts, sysparam.WithCache(redisClient.Client, config.SysParamCacheTTL))
	}
	params := sysparam.New(sysparam.NewPostgres(db), sysparamOpts...)

	ledgerStore := ledger.NewPostgres(db)
	ledgerService := ledger.New(ledgerStore, ledger.WithLogger(log), ledger.WithMetrics(m))
	allocator := ledger.NewAllocator(ledgerStore,
		ledger.AllocatorWithLogger(log), ledger.AllocatorWithMetrics(m))

	missionOpts := []mission.Option{
		mission.WithLogger(log),
		mission.WithMetrics(m),
		mission.WithAuditor(recorder),
		mission.WithNumberPrefix(cfg.OrderNumberPrefix),
	}
	transitions, err := mission.ParseTransitions(cfg.StatutTransitions)
	if err != nil {
		log.Error("invalid statut transition configuration", "error", err)
		os.Exit(1)
	}
	if transitions != nil {
		missionOpts = append(missionOpts, mission.WithTransitions(transitions))
	}
	missionService := mission.New(mission.NewPostgres(db), runner, ledgerService, allocator, params, missionOpts...)

	modificationOpts := []modification.Option{
		modification.WithLogger(log),
		modification.WithMetrics(m),
	}
	if len(cfg.KafkaBrokers) > 0 {
		notifier, err := notification.NewKafkaNotifier(ctx, cfg.KafkaBrokers, cfg.NotificationTopic, log)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := notifier.Close(flushCtx); err != nil {
				log.Warn("notification flush failed", "error", err)
			}
		}()
		modificationOpts = append(modificationOpts, modification.WithNotifier(notifier))
	}
	modificationService := modification.New(modification.NewPostgres(db), missionService, params, modificationOpts...)

	checks := map[string]httptransport.HealthChecker{}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	router := httptransport.NewRouter(db, checks,
		ledgerhandler.New(ledgerService, log, jwtValidator),
		missionhandler.New(missionService, log, jwtValidator),
		modificationhandler.New(modificationService, log, jwtValidator),
		sysparamhandler.New(params, log, jwtValidator),
	)

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting escorte server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
