package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"webchat-service/internal/auth"
	"webchat-service/internal/chat"
	"webchat-service/internal/config"
	"webchat-service/internal/db"
	grpcclient "webchat-service/internal/grpc"
	"webchat-service/internal/handlers"
	"webchat-service/internal/middleware"
	"webchat-service/internal/observability"
	"webchat-service/internal/rabbitmq"
	"webchat-service/internal/redisbus"
	"webchat-service/internal/registry"
	"webchat-service/internal/repositories"
	"webchat-service/internal/telemetry"
	"webchat-service/internal/ws"
)

const (
	serviceName     = "webchat-service"
	auditRoutingKey = "audit.webchat"
)

// app is the wired service. background loops must be started by the caller
// and stop when their context is cancelled.
type app struct {
	router     *gin.Engine
	ws         *ws.Handler
	db         *sqlx.DB
	background []func(context.Context) error
	closers    []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}
	if err := a.wire(ctx, cfg, logger); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var err error

	a.db, err = db.Connect(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.db.Close)
	store := repositories.NewSQLStore(a.db)

	resolver, err := newResolver(cfg, a, logger)
	if err != nil {
		return err
	}
	gate := auth.NewGate(resolver, logger)

	local := registry.NewLocalRegistry(logger)
	var reg registry.Registry = local
	broker, err := newBroker(ctx, cfg, logger)
	switch {
	case errors.Is(err, registry.ErrNoBroker):
	case err != nil:
		return err
	default:
		a.closers = append(a.closers, broker.Close)
		brokered := registry.NewBrokeredRegistry(local, broker, logger)
		a.background = append(a.background, brokered.Run)
		reg = brokered
	}

	publisher := rabbitmq.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
	a.closers = append(a.closers, publisher.Close)
	logger.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("noop_reason", rabbitmq.PublisherNoopReason(publisher)).Msg("event publisher ready")
	events := observability.NewEvents(publisher)
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, serviceName, cfg.Env, logger)

	media := chat.NewMediaResolver(cfg.MediaBaseURL)
	svc := chat.NewService(store, reg, media, logger)
	a.ws = ws.NewHandler(gate, reg, svc, events, cfg.WS, logger)

	a.router = newRouter(cfg, logger, routes{
		db:       a.db,
		gate:     gate,
		ws:       a.ws,
		messages: handlers.NewMessageHandler(store, media, audit),
		audit:    audit,
	})
	return nil
}

func newResolver(cfg *config.Config, a *app, logger zerolog.Logger) (auth.Resolver, error) {
	if cfg.Auth.Mode == config.AuthGRPC {
		conn, err := grpcclient.Dial(cfg.Auth.GRPCAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		return auth.NewGRPCResolver(grpcclient.NewIdentityClient(conn), repositories.NewAccountRepo(a.db)), nil
	}
	if cfg.Auth.SigningKey == "" {
		logger.Warn().Msg("JWT_SIGNING_KEY is empty, every credential will be rejected")
	}
	return auth.NewJWTResolver(cfg.Auth.SigningKey, repositories.NewAccountRepo(a.db)), nil
}

// newBroker returns registry.ErrNoBroker for in-process fan-out.
func newBroker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (registry.Broker, error) {
	switch cfg.Broker.Kind {
	case config.BrokerRedis:
		broker, err := redisbus.New(ctx, cfg.Broker.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		return broker, nil
	case config.BrokerAMQP:
		broker, err := rabbitmq.NewBroker(cfg.Broker.AMQPURL, cfg.Broker.Exchange, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("amqp fan-out keeps order per publishing process only; use BROKER=redis for one order per group across processes")
		return broker, nil
	case config.BrokerLocal:
		return nil, registry.ErrNoBroker
	}
	return nil, fmt.Errorf("%w: unknown kind %q", registry.ErrNoBroker, cfg.Broker.Kind)
}

type routes struct {
	db       handlers.Pinger
	gate     *auth.Gate
	ws       *ws.Handler
	messages *handlers.MessageHandler
	audit    *telemetry.AuditEmitter
}

func newRouter(cfg *config.Config, logger zerolog.Logger, rt routes) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.RequestLogger(logger),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/healthz", handlers.Health(rt.db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/chat/:serverId/:channelId", rt.ws.Handle)

	api := router.Group("/api", middleware.AuthMiddleware(rt.gate))
	api.GET("/messages", rt.messages.ListMessages)
	api.GET("/messages/:id", rt.messages.GetMessage)
	api.PATCH("/messages/:id", rt.messages.UpdateMessage)
	api.DELETE("/messages/:id", rt.messages.DeleteMessage)

	handlers.RegisterDebugRoutes(router, rt.audit, cfg.DebugRoutes)
	return router
}
