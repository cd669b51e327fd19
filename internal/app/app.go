// Package app wires configuration, storage and services into the runtime
// shared by the API server, the worker and mailerctl.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/mailing-api/config"
	"github.com/jwalitptl/mailing-api/internal/cache"
	"github.com/jwalitptl/mailing-api/internal/email"
	"github.com/jwalitptl/mailing-api/internal/handler/health"
	mailingHandler "github.com/jwalitptl/mailing-api/internal/handler/mailing"
	messageHandler "github.com/jwalitptl/mailing-api/internal/handler/message"
	promHandler "github.com/jwalitptl/mailing-api/internal/handler/prometheus"
	recipientHandler "github.com/jwalitptl/mailing-api/internal/handler/recipient"
	statisticsHandler "github.com/jwalitptl/mailing-api/internal/handler/statistics"
	userHandler "github.com/jwalitptl/mailing-api/internal/handler/user"
	"github.com/jwalitptl/mailing-api/internal/middleware"
	"github.com/jwalitptl/mailing-api/internal/repository"
	"github.com/jwalitptl/mailing-api/internal/repository/memory"
	"github.com/jwalitptl/mailing-api/internal/repository/postgres"
	"github.com/jwalitptl/mailing-api/internal/router"
	"github.com/jwalitptl/mailing-api/internal/service/access"
	"github.com/jwalitptl/mailing-api/internal/service/dispatch"
	"github.com/jwalitptl/mailing-api/internal/service/lifecycle"
	"github.com/jwalitptl/mailing-api/internal/service/listing"
	"github.com/jwalitptl/mailing-api/internal/service/mailing"
	"github.com/jwalitptl/mailing-api/internal/service/message"
	"github.com/jwalitptl/mailing-api/internal/service/recipient"
	"github.com/jwalitptl/mailing-api/internal/service/statistics"
	"github.com/jwalitptl/mailing-api/internal/service/user"
	"github.com/jwalitptl/mailing-api/pkg/auth"
	"github.com/jwalitptl/mailing-api/pkg/circuitbreaker"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/messaging"
	"github.com/jwalitptl/mailing-api/pkg/messaging/amqp"
	"github.com/jwalitptl/mailing-api/pkg/messaging/redis"
	"github.com/jwalitptl/mailing-api/pkg/metrics"
	"github.com/jwalitptl/mailing-api/pkg/validator"
)

// Store is the set of repositories both storage drivers provide.
type Store interface {
	Recipients() repository.RecipientRepository
	Messages() repository.MessageRepository
	Mailings() repository.MailingRepository
	DeliveryLogs() repository.DeliveryLogRepository
	Users() repository.UserRepository
	Outbox() repository.OutboxRepository
}

// Deps overrides pieces New would otherwise build from configuration.
type Deps struct {
	Store    Store
	Sender   email.Sender
	Cache    cache.Cache
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
}

type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	DB    *sqlx.DB
	Store Store
	Cache cache.Cache

	Tokens     auth.JWTService
	Policy     *access.Policy
	Recipients *recipient.Service
	Messages   *message.Service
	Mailings   *mailing.Service
	Users      *user.Service
	Statistics *statistics.Service

	gatherer prometheus.Gatherer
	redis    *goredis.Client
	closers  []func() error
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger, deps Deps) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   log,
		Metrics:  deps.Metrics,
		Store:    deps.Store,
		Cache:    deps.Cache,
		gatherer: deps.Gatherer,
	}
	if a.Metrics == nil {
		a.Metrics = metrics.NewMetrics(cfg.Monitoring.Namespace)
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCache(ctx); err != nil {
		a.Close()
		return nil, err
	}

	sender := deps.Sender
	if sender == nil {
		sender = a.newSender()
	}

	var locker dispatch.Locker
	if cfg.Dispatch.Exclusive {
		l, err := a.newLocker(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		locker = l
	}

	a.build(sender, locker)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Store != nil {
		return nil
	}
	switch a.Config.Database.Driver {
	case "memory":
		a.Logger.Warn("using in-memory storage; data is lost on restart")
		a.Store = memory.NewStore()
	default:
		db, err := postgres.NewDB(ctx, a.Config.Database)
		if err != nil {
			return err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		a.Store = postgres.NewRepositories(db)
	}
	return nil
}

func (a *App) openCache(ctx context.Context) error {
	if a.Cache != nil {
		return nil
	}
	switch a.Config.Cache.Driver {
	case "redis":
		client, err := a.Redis(ctx)
		if err != nil {
			return err
		}
		a.Cache = cache.NewRedisCache(client, a.Config.Monitoring.Namespace)
	default:
		a.Cache = cache.NewMemoryCache(a.Config.Cache.CleanupInterval)
	}
	return nil
}

func (a *App) newSender() email.Sender {
	mc := a.Config.Mail
	if mc.Driver == "log" {
		return email.NewLogSender(a.Logger)
	}
	smtp := email.NewSMTPSender(email.SMTPConfig{
		Host:     mc.Host,
		Port:     mc.Port,
		Username: mc.Username,
		Password: mc.Password,
		SSL:      mc.SSL,
		Timeout:  mc.SendTimeout,
	})
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "smtp",
		MaxFailures: mc.BreakerFailures,
		Timeout:     mc.BreakerCooldown,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			a.Logger.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return email.NewBreakerSender(smtp, cb)
}

func (a *App) newLocker(ctx context.Context) (dispatch.Locker, error) {
	if a.Config.Database.Driver == "memory" {
		return dispatch.NewLocalLocker(), nil
	}
	client, err := a.Redis(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch lock needs redis: %w", err)
	}
	return dispatch.NewRedisLocker(client, a.Logger), nil
}

func (a *App) build(sender email.Sender, locker dispatch.Locker) {
	cfg := a.Config
	v := validator.New()

	a.Policy = access.NewPolicy()
	a.Tokens = auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	listings := listing.New(a.Cache, a.Policy, a.Logger, a.Metrics)

	machine := lifecycle.NewMachine(a.Store.Mailings(), a.Logger, a.Metrics)
	dispatcher := dispatch.NewDispatcher(
		a.Store.DeliveryLogs(),
		sender,
		locker,
		dispatch.Config{
			From:    cfg.Mail.From,
			Workers: cfg.Dispatch.Workers,
			LockTTL: cfg.Dispatch.LockTTL,
		},
		a.Logger,
		a.Metrics,
	)

	a.Recipients = recipient.NewService(a.Store.Recipients(), a.Policy, listings, v, cfg.Cache.TTL.Recipients, a.Logger)
	a.Messages = message.NewService(a.Store.Messages(), a.Policy, listings, v, cfg.Cache.TTL.Messages, a.Logger)
	a.Mailings = mailing.NewService(
		mailing.Repositories{
			Mailings:   a.Store.Mailings(),
			Messages:   a.Store.Messages(),
			Recipients: a.Store.Recipients(),
			Logs:       a.Store.DeliveryLogs(),
			Outbox:     a.Store.Outbox(),
		},
		machine,
		dispatcher,
		a.Policy,
		listings,
		v,
		cfg.Cache.TTL.Mailings,
		a.Logger,
	)
	a.Users = user.NewService(a.Store.Users(), a.Policy, a.Logger)
	a.Statistics = statistics.NewService(
		a.Store.Mailings(),
		a.Store.Recipients(),
		a.Store.DeliveryLogs(),
		listings,
		cfg.Cache.TTL.Statistics,
	)
}

// Redis returns the shared client, connecting on first use.
func (a *App) Redis(ctx context.Context) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	rc := a.Config.Redis
	client, err := redis.NewClient(ctx, redis.Config{
		URL:          rc.URL,
		MaxRetries:   rc.MaxRetries,
		RetryBackoff: rc.RetryBackoff,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
	})
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// Broker connects to the configured event broker. It is closed with the app.
func (a *App) Broker(ctx context.Context) (messaging.Broker, error) {
	switch a.Config.Broker.Driver {
	case "amqp":
		b, err := amqp.NewBroker(a.Config.Broker.AMQPURL, a.Logger.ZL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b.Close)
		return b, nil
	default:
		client, err := a.Redis(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewFromClient(client, a.Logger.ZL), nil
	}
}

// Router builds the HTTP routes over the app's services.
func (a *App) Router() *router.Router {
	var pinger health.Pinger
	if a.DB != nil {
		pinger = a.DB
	}

	stats := statisticsHandler.NewHandler(a.Statistics)
	r := router.NewRouter(
		middleware.NewAuthMiddleware(a.Tokens, a.Users),
		router.Handlers{
			Health:     health.NewHandler(pinger),
			Metrics:    promHandler.New(a.gatherer),
			Statistics: stats,
			Recipients: recipientHandler.NewHandler(a.Recipients),
			Messages:   messageHandler.NewHandler(a.Messages),
			Mailings:   mailingHandler.NewHandler(a.Mailings, a.Logger),
			Users:      userHandler.NewHandler(a.Users),
		},
		a.Logger,
		a.Metrics,
		router.RouterConfig{
			RateLimitEnabled: a.Config.RateLimit.Enabled,
			RateLimit:        rate.Limit(a.Config.RateLimit.RequestsPerSecond),
			RateBurst:        a.Config.RateLimit.Burst,
			RequestTimeout:   a.Config.Server.RequestTimeout,
		},
	)
	r.Setup()
	return r
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
