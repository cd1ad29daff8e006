package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/omnihubio/omnihub/internal/access"
	"github.com/omnihubio/omnihub/internal/agent"
	"github.com/omnihubio/omnihub/internal/config"
	"github.com/omnihubio/omnihub/internal/db"
	"github.com/omnihubio/omnihub/internal/handlers"
	"github.com/omnihubio/omnihub/internal/identity"
	"github.com/omnihubio/omnihub/internal/instance"
	"github.com/omnihubio/omnihub/internal/logger"
	"github.com/omnihubio/omnihub/internal/outbound"
	"github.com/omnihubio/omnihub/internal/router"
	"github.com/omnihubio/omnihub/internal/server"
	"github.com/omnihubio/omnihub/internal/trace"
	"github.com/omnihubio/omnihub/internal/webhook"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideInstanceService,
			provideTraceService,
			provideIdentityResolver,
			provideAccessRuleStore,
			provideAccessEvaluator,
			provideAgentClient,
			provideNormalizer,
			provideOutboundDispatcher,
			provideRouter,
			provideServer,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideTraceHandler),
			provideServerHandler(provideInstanceHandler),
			provideServerHandler(provideAccessHandler),
		),
		fx.Invoke(
			startRouter,
			startTraceRetention,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideInstanceService(log *slog.Logger, conn *pgxpool.Pool) *instance.Service {
	return instance.NewService(log, conn)
}

func provideTraceService(log *slog.Logger, conn *pgxpool.Pool) *trace.Service {
	return trace.NewService(log, trace.NewPGStore(conn))
}

func provideIdentityResolver(log *slog.Logger, conn *pgxpool.Pool) *identity.Resolver {
	return identity.NewResolver(log, identity.NewPGStore(conn))
}

func provideAccessRuleStore(conn *pgxpool.Pool) *access.PGRuleStore {
	return access.NewPGRuleStore(conn)
}

func provideAccessEvaluator(log *slog.Logger, rules *access.PGRuleStore, cfg config.Config) *access.Evaluator {
	ttl := time.Duration(cfg.Access.CacheTTLSeconds) * time.Second
	return access.NewEvaluator(log, rules, ttl)
}

func provideAgentClient(log *slog.Logger, cfg config.Config) *agent.Client {
	return agent.NewClient(log, time.Duration(cfg.Agent.DefaultTimeoutSeconds)*time.Second)
}

func provideNormalizer(log *slog.Logger) *webhook.Normalizer {
	return webhook.NewNormalizer(log)
}

func provideOutboundDispatcher(log *slog.Logger, cfg config.Config) *outbound.Dispatcher {
	policy := outbound.Policy{
		RetryMax:       cfg.Outbound.RetryMax,
		RetryBackoffMs: cfg.Outbound.RetryBackoffMs,
		SplitDelayMin:  time.Duration(cfg.Outbound.SplitDelayMin) * time.Millisecond,
		SplitDelayMax:  time.Duration(cfg.Outbound.SplitDelayMax) * time.Millisecond,
	}
	senders := map[instance.ChannelType]outbound.Sender{
		instance.ChannelWhatsApp: outbound.NewEvolutionSender(log),
		instance.ChannelDiscord:  outbound.NewDiscordSender(log),
		instance.ChannelTelegram: outbound.NewTelegramSender(log),
	}
	return outbound.NewDispatcher(log, policy, senders)
}

func provideRouter(
	log *slog.Logger,
	cfg config.Config,
	instances *instance.Service,
	evaluator *access.Evaluator,
	resolver *identity.Resolver,
	agentClient *agent.Client,
	dispatcher *outbound.Dispatcher,
	traces *trace.Service,
) *router.Router {
	return router.New(log, instances, evaluator, resolver, agentClient, dispatcher, traces, router.Options{
		Lanes:      cfg.Router.Lanes,
		LaneDepth:  cfg.Router.LaneDepth,
		ChunkLimit: cfg.Outbound.ChunkLimit,
	})
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, cfg)
}

func provideWebhookHandler(log *slog.Logger, normalizer *webhook.Normalizer, r *router.Router) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, normalizer, r)
}

func provideTraceHandler(log *slog.Logger, traces *trace.Service) *handlers.TraceHandler {
	return handlers.NewTraceHandler(log, traces)
}

func provideInstanceHandler(log *slog.Logger, instances *instance.Service) *handlers.InstanceHandler {
	return handlers.NewInstanceHandler(log, instances)
}

func provideAccessHandler(log *slog.Logger, rules *access.PGRuleStore, evaluator *access.Evaluator) *handlers.AccessHandler {
	return handlers.NewAccessHandler(log, rules, evaluator)
}

type serverParams struct {
	fx.In

	Config   config.Config
	Logger   *slog.Logger
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(p serverParams) *server.Server {
	return server.New(p.Config.Server.Addr, p.Config.Auth.JWTSecret, p.Logger, p.Handlers)
}

func startRouter(lc fx.Lifecycle, r *router.Router) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { r.Start(); return nil },
		OnStop:  func(ctx context.Context) error { r.Stop(); return nil },
	})
}

func startTraceRetention(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, traces *trace.Service) {
	if cfg.Trace.RetentionDays <= 0 {
		return
	}
	retention := time.Duration(cfg.Trace.RetentionDays) * 24 * time.Hour
	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.Trace.CleanupCron, func() {
		if _, err := traces.Cleanup(context.Background(), retention); err != nil {
			logger.Warn("trace cleanup failed", slog.Any("error", err))
		}
	})
	if err != nil {
		logger.Error("invalid trace cleanup schedule",
			slog.String("cron", cfg.Trace.CleanupCron),
			slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { scheduler.Start(); return nil },
		OnStop:  func(ctx context.Context) error { scheduler.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
