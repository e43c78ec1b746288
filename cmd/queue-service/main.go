package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/queue-service/internal/config"
	"qms/queue-service/internal/estimate"
	"qms/queue-service/internal/feed"
	"qms/queue-service/internal/httpapi"
	"qms/queue-service/internal/metrics"
	"qms/queue-service/internal/notify"
	"qms/queue-service/internal/queue"
	"qms/queue-service/internal/sla"
	"qms/queue-service/internal/store"
	"qms/queue-service/internal/store/memory"
	"qms/queue-service/internal/store/postgres"
	"qms/queue-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, closeStore := openStore(cfg)
	defer closeStore()

	m := metrics.New(prometheus.DefaultRegisterer)
	engine := queue.NewEngine(st, queue.Options{Metrics: m})
	estimator := estimate.New(st, estimate.Options{
		HistoryDays: cfg.EstimateHistoryDays,
		SampleLimit: cfg.EstimateSampleLimit,
		CacheSize:   cfg.EstimateCacheSize,
		CacheTTL:    cfg.EstimateCacheTTL,
		Metrics:     m,
	})
	monitor := sla.NewMonitor(st)
	scanner := sla.NewScanner(st, m, nil)

	dispatcher := notify.NewDispatcher(st, notify.DispatcherConfig{
		Channels: notify.Channels{
			Push:    notify.NewPush(providerConfig(cfg.PushProvider, cfg.NotifChannelTimeout)),
			SMS:     notify.NewSMS(providerConfig(cfg.SMSProvider, cfg.NotifChannelTimeout)),
			Webhook: notify.NewWebhook(providerConfig(cfg.WebhookProvider, cfg.NotifChannelTimeout)),
			InApp:   cfg.NotifInApp,
		},
		Enabled:     cfg.NotifChannels,
		Timeout:     cfg.NotifChannelTimeout,
		Lang:        cfg.NotifLang,
		Deactivator: st,
		Metrics:     m,
	})
	worker := notify.NewWorker(st, dispatcher, estimator, notify.WorkerConfig{
		BatchSize:        cfg.NotifBatchSize,
		ReminderPosition: cfg.NotifReminderPosition,
	})

	hub := feed.New(cfg.RealtimeBuffer, m)
	relay := feed.NewRelay(st, hub, cfg.RealtimeBatchSize)

	auth := httpapi.NewTokenAuth(cfg.APITokens)
	if len(cfg.APITokens) == 0 {
		log.Printf("API_TOKENS not set; tenant scoping by token is disabled")
	}

	handler := httpapi.NewHandler(engine, httpapi.Options{
		Estimator: estimator,
		SLA:       monitor,
		Events:    st,
		Realtime:  feed.NewSockJSHandler("/realtime", hub, auth),
		Metrics:   promhttp.Handler(),
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		TenantPerMinute: cfg.TenantRateLimitPerMinute,
		TenantBurst:     cfg.TenantRateLimitBurst,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(m, limiter.Middleware(auth.Middleware(handler.Routes()))), "queue-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	if cfg.NoShowGrace > 0 && cfg.NoShowInterval > 0 {
		go expireCalls(ctx, engine, cfg)
	}
	if cfg.SLAScanInterval > 0 {
		go sla.Run(ctx, cfg.SLAScanInterval, scanner)
	}
	if cfg.NotifPollInterval > 0 {
		go notify.Start(ctx, cfg.NotifPollInterval, worker)
	}
	go feed.Start(ctx, cfg.RealtimePollInterval, relay)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// openStore connects to Postgres when DB_DSN is set. Without it the service
// runs on the in-memory store, loaded from QUEUE_SEED_FILE when present.
func openStore(cfg config.Config) (store.Store, func()) {
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		return postgres.NewStore(pool), pool.Close
	}

	mem := memory.NewStore()
	if cfg.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.SeedFile)
		if err != nil {
			log.Fatalf("seed load: %v", err)
		}
		if err := seed.Apply(mem); err != nil {
			log.Fatalf("seed apply: %v", err)
		}
		log.Printf("seeded %d services, %d stations from %s", len(seed.Services), len(seed.Stations), cfg.SeedFile)
	}
	log.Printf("DB_DSN not set, using in-memory store")
	return mem, func() {}
}

func providerConfig(p config.Provider, timeout time.Duration) notify.ProviderConfig {
	return notify.ProviderConfig{Kind: p.Kind, URL: p.URL, Token: p.Token, Timeout: timeout}
}

func expireCalls(ctx context.Context, engine *queue.Engine, cfg config.Config) {
	ticker := time.NewTicker(cfg.NoShowInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			count, err := engine.ExpireCalls(runCtx, cfg.NoShowGrace, cfg.NoShowBatchSize)
			cancel()
			if err != nil {
				log.Printf("auto no-show error: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("auto no-show processed %d tickets", count)
			}
		}
	}
}
