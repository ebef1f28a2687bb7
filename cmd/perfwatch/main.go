package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/config"
	"github.com/perfwatch/perfwatch/internal/monitoring/alerting"
	"github.com/perfwatch/perfwatch/internal/monitoring/api"
	"github.com/perfwatch/perfwatch/internal/monitoring/collector"
	"github.com/perfwatch/perfwatch/internal/monitoring/dispatch"
	"github.com/perfwatch/perfwatch/internal/monitoring/metrics"
	"github.com/perfwatch/perfwatch/internal/monitoring/model"
	"github.com/perfwatch/perfwatch/internal/monitoring/monitor"
	"github.com/perfwatch/perfwatch/internal/monitoring/store"
)

func main() {
	log.Info().Msg("Starting perfwatch monitor")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// configure log level from config
	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	selfMetrics := metrics.New(prometheus.DefaultRegisterer)
	metricsStore := store.New(cfg.Monitoring.MaxDataPoints, selfMetrics)
	engine := alerting.NewEngine(selfMetrics)

	// optional Redis write-through cache for alert state
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		engine.WithCache(alerting.NewRedisCache(rdb))
	}

	// optional Postgres alert archive
	if cfg.Database.Enabled {
		if archive, aerr := alerting.NewPgArchive(ctx, cfg.Database.DSN()); aerr == nil {
			engine.WithArchive(archive)
			defer archive.Close()
		} else {
			log.Error().Err(aerr).Msg("alert archive init failed; alerts kept in memory only")
		}
	}

	if err := alerting.BootstrapRulesFromFile(engine, cfg.Monitoring.RulesFile); err != nil {
		log.Error().Err(err).Msg("bootstrap rules from config failed")
	}

	dispatcher := dispatch.NewDispatcher(selfMetrics).WithRuleResolver(func(ruleName string) []string {
		rule, rerr := engine.Rule(ruleName)
		if rerr != nil {
			return nil
		}
		return rule.Channels
	})
	registerChannels(dispatcher, &cfg.Channels)

	registry := collector.NewRegistry()
	registerCollectors(registry, cfg)

	// dashboard hub observes the store and the engine
	hub := api.NewHub(metricsStore, selfMetrics)
	metricsStore.Subscribe(hub.BroadcastPoint)
	engine.Subscribe(hub.BroadcastAlert)

	// dispatch is driven by the monitor loop; the hub broadcast above fires
	// independently of any channel outcome
	mon := monitor.New(monitor.Deps{
		Registry:           registry,
		Store:              metricsStore,
		Engine:             engine,
		Dispatcher:         dispatcher,
		Metrics:            selfMetrics,
		CollectionInterval: parseDuration(cfg.Monitoring.CollectionInterval, 60*time.Second),
		CleanupInterval:    parseDuration(cfg.Monitoring.CleanupInterval, time.Hour),
		RetentionPeriod:    parseDuration(cfg.Monitoring.RetentionPeriod, 24*time.Hour),
	})
	mon.Start(ctx)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	api.New(router, metricsStore, engine, registry, hub)

	srv := &http.Server{Addr: cfg.Server.BindAddr, Handler: router}
	go func() {
		log.Info().Msgf("Starting server on %s", cfg.Server.BindAddr)
		if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			log.Fatal().Err(serr).Msg("start perfwatch api server failed.")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	mon.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	log.Info().Msg("perfwatch monitor exit...")
}

func registerChannels(d *dispatch.Dispatcher, cfg *config.ChannelsConfig) {
	register := func(name string, ch dispatch.Channel) {
		if err := d.Register(ch); err != nil {
			log.Error().Err(err).Str("channel", name).Msg("channel registration failed")
		}
	}
	if cfg.Email.Enabled {
		minSev, maxSev := severityRange(cfg.Email.ChannelPolicy)
		register("email", dispatch.NewEmailChannel("email", cfg.Email.Host, cfg.Email.Port,
			cfg.Email.Username, cfg.Email.Password, cfg.Email.From, cfg.Email.To,
			minSev, maxSev, parseDuration(cfg.Email.RateLimit, time.Minute)))
	}
	if cfg.Slack.Enabled {
		minSev, maxSev := severityRange(cfg.Slack.ChannelPolicy)
		register("slack", dispatch.NewSlackChannel("slack", cfg.Slack.WebhookURL,
			minSev, maxSev, parseDuration(cfg.Slack.RateLimit, time.Minute)))
	}
	if cfg.Discord.Enabled {
		minSev, maxSev := severityRange(cfg.Discord.ChannelPolicy)
		register("discord", dispatch.NewDiscordChannel("discord", cfg.Discord.WebhookURL,
			minSev, maxSev, parseDuration(cfg.Discord.RateLimit, time.Minute)))
	}
	if cfg.Webhook.Enabled {
		minSev, maxSev := severityRange(cfg.Webhook.ChannelPolicy)
		register("webhook", dispatch.NewWebhookChannel("webhook", cfg.Webhook.URL, cfg.Webhook.Headers,
			minSev, maxSev, parseDuration(cfg.Webhook.RateLimit, time.Minute)))
	}
	if cfg.PagerDuty.Enabled {
		minSev, maxSev := severityRange(cfg.PagerDuty.ChannelPolicy)
		register("pagerduty", dispatch.NewPagerDutyChannel("pagerduty", cfg.PagerDuty.RoutingKey,
			cfg.PagerDuty.Source, minSev, maxSev, parseDuration(cfg.PagerDuty.RateLimit, time.Minute)))
	}
}

func registerCollectors(registry *collector.Registry, cfg *config.Config) {
	register := func(c collector.Collector) {
		if err := registry.Register(c); err != nil {
			log.Error().Err(err).Str("collector", c.Name()).Msg("collector registration failed")
		}
	}
	register(collector.NewCPUCollector())
	register(collector.NewMemoryCollector())
	register(collector.NewDiskCollector(cfg.Collectors.DiskPaths))

	if cfg.Collectors.Postgres && cfg.Database.Enabled {
		if pg, err := collector.NewPostgresCollector(cfg.Database.DSN(), cfg.Database.DBName); err == nil {
			register(pg)
		} else {
			log.Error().Err(err).Msg("postgres collector init failed")
		}
	}
	if url := cfg.Collectors.Prometheus.URL; url != "" && len(cfg.Collectors.Prometheus.Queries) > 0 {
		queries := make([]collector.PromQuery, 0, len(cfg.Collectors.Prometheus.Queries))
		for _, q := range cfg.Collectors.Prometheus.Queries {
			queries = append(queries, collector.PromQuery{MetricName: q.MetricName, Expr: q.Expr})
		}
		if pc, err := collector.NewPrometheusCollector(url, queries); err == nil {
			register(pc)
		} else {
			log.Error().Err(err).Msg("prometheus collector init failed")
		}
	}
}

func severityRange(policy config.ChannelPolicy) (model.Severity, model.Severity) {
	minSev := model.SeverityInfo
	if policy.MinSeverity != "" {
		if v, err := model.ParseSeverity(policy.MinSeverity); err == nil {
			minSev = v
		}
	}
	maxSev := model.SeverityEmergency
	if policy.MaxSeverity != "" {
		if v, err := model.ParseSeverity(policy.MaxSeverity); err == nil {
			maxSev = v
		}
	}
	return minSev, maxSev
}

func parseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}
