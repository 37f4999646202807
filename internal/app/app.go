// Package app assembles the dependency graph shared by the server and the
// operator CLI. Every backing service is optional: an empty URL selects the
// in-memory implementation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	approvalhandler "gatekeeper/internal/approval/handler"
	approvalmetrics "gatekeeper/internal/approval/metrics"
	approvalservice "gatekeeper/internal/approval/service"
	approvalstore "gatekeeper/internal/approval/store"
	"gatekeeper/internal/audit/recorder"
	auditstore "gatekeeper/internal/audit/store"
	"gatekeeper/internal/directory"
	"gatekeeper/internal/dispatcher"
	adminhandler "gatekeeper/internal/dispatcher/handler"
	"gatekeeper/internal/dispatcher/ledger"
	dispatchmetrics "gatekeeper/internal/dispatcher/metrics"
	dispatchstore "gatekeeper/internal/dispatcher/store"
	"gatekeeper/internal/escalation"
	escalationmetrics "gatekeeper/internal/escalation/metrics"
	"gatekeeper/internal/eventlog"
	jwttoken "gatekeeper/internal/jwt_token"
	"gatekeeper/internal/notify"
	outboxmetrics "gatekeeper/internal/outbox/metrics"
	"gatekeeper/internal/outbox/relay"
	outboxstore "gatekeeper/internal/outbox/store"
	"gatekeeper/internal/platform/config"
	httpmetrics "gatekeeper/internal/platform/metrics"
	"gatekeeper/internal/platform/postgres"
	platformredis "gatekeeper/internal/platform/redis"
	"gatekeeper/internal/tenant"
	tenantmetrics "gatekeeper/internal/tenant/metrics"
	tenantstore "gatekeeper/internal/tenant/store"
	httptransport "gatekeeper/internal/transport/http"
	"gatekeeper/pkg/platform/circuit"
	txcontext "gatekeeper/pkg/platform/tx"
)

type approvalStore interface {
	approvalservice.Store
	escalation.Store
}

type outboxStore interface {
	relay.Store
	approvalservice.Outbox
}

type auditStore interface {
	recorder.Store
	approvalhandler.History
}

// Metrics are registered once per process.
type Metrics struct {
	HTTP       *httpmetrics.Metrics
	Approval   *approvalmetrics.Metrics
	Outbox     *outboxmetrics.Metrics
	Dispatch   *dispatchmetrics.Metrics
	Escalation *escalationmetrics.Metrics
	Tenant     *tenantmetrics.Metrics
}

func NewMetrics() *Metrics {
	return &Metrics{
		HTTP:       httpmetrics.New(),
		Approval:   approvalmetrics.New(),
		Outbox:     outboxmetrics.New(),
		Dispatch:   dispatchmetrics.New(),
		Escalation: escalationmetrics.New(),
		Tenant:     tenantmetrics.New(),
	}
}

// App holds the wired components.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Approvals  *approvalservice.Service
	Tenants    *tenant.Service
	Directory  *directory.Static
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *escalation.Scheduler
	Relay      *relay.Relay
	EventLog   eventlog.Log

	audit    auditStore
	listener *relay.Listener
	metrics  *Metrics
	health   []httptransport.HealthCheck
	closers  []func()
}

// Build connects the configured backing services and wires every component.
// On error everything opened so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, m *Metrics) (_ *App, err error) {
	if m == nil {
		m = &Metrics{}
	}
	a := &App{Config: cfg, Logger: logger, metrics: m}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var (
		approvals approvalStore
		outbox    outboxStore
		audit     auditStore
		settings  tenantstore.Backing
		retries   dispatcher.RetryStore
		dead      dispatcher.DeadLetterStore
		tx        txcontext.Runner
		wakeups   <-chan struct{}
	)

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		a.check("database", db.PingContext)

		approvals = approvalstore.NewPostgres(db)
		outbox = outboxstore.NewPostgres(db)
		audit = auditstore.NewPostgres(db)
		settings = tenantstore.NewPostgres(db)
		retries = dispatchstore.NewPostgresRetries(db)
		dead = dispatchstore.NewPostgresDeadLetters(db)
		tx = txcontext.NewSQLRunner(db, 0)

		a.listener = relay.NewListener(cfg.Database.URL, logger)
		wakeups = a.listener.Wakeups()
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		memOutbox := outboxstore.NewInMemory()
		approvals = approvalstore.NewInMemory()
		outbox = memOutbox
		audit = auditstore.NewInMemory()
		settings = tenantstore.NewInMemory()
		retries = dispatchstore.NewInMemoryRetries()
		dead = dispatchstore.NewInMemoryDeadLetters()
		tx = txcontext.NewMemoryRunner()
		wakeups = memOutbox.Notifications()
	}
	a.audit = audit

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	var processed, sent ledger.Ledger
	if redisClient != nil {
		a.onClose(func() { _ = redisClient.Close() })
		a.check("redis", redisClient.Health)
		processed = ledger.NewRedis(redisClient.Client, cfg.Dispatcher.LedgerTTL)
		sent = processed
		settings = tenantstore.NewRedisCached(settings, redisClient.Client, 0, logger, m.Tenant)
	} else {
		logger.Warn("REDIS_URL not set, using in-memory ledger")
		processed = ledger.NewInMemory()
		sent = processed
	}

	a.Tenants = tenant.NewService(settings, logger, m.Tenant)
	a.Directory = directory.NewStatic()
	if cfg.SeedFile != "" {
		if err := a.seed(ctx, cfg.SeedFile); err != nil {
			return nil, err
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		k, err := eventlog.NewKafka(ctx, cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		a.EventLog = k
		a.check("event_log", k.Health)
	} else {
		logger.Warn("KAFKA_BROKERS not set, using in-memory event log")
		a.EventLog = eventlog.NewMemory()
	}
	a.onClose(a.EventLog.Close)

	a.Approvals = approvalservice.New(approvals, outbox, tx, a.Directory, a.Tenants,
		approvalservice.WithLogger(logger),
		approvalservice.WithMetrics(m.Approval),
		approvalservice.WithMaxBulk(cfg.Server.MaxBulkDecisions),
		approvalservice.WithBulkConcurrency(cfg.Server.BulkConcurrency),
	)

	a.Relay = relay.New(outbox, a.EventLog,
		relay.WithLogger(logger),
		relay.WithMetrics(m.Outbox),
		relay.WithWakeups(wakeups),
		relay.WithPollInterval(cfg.Outbox.PollInterval),
		relay.WithBatchSize(cfg.Outbox.BatchSize),
		relay.WithRetention(cfg.Outbox.Retention),
		relay.WithBreaker(circuit.New("event_log")),
	)

	a.Dispatcher = dispatcher.New(a.EventLog, retries, dead, processed,
		dispatcher.WithLogger(logger),
		dispatcher.WithMetrics(m.Dispatch),
		dispatcher.WithHandlerTimeout(cfg.Dispatcher.HandlerTimeout),
		dispatcher.WithPumpInterval(cfg.Dispatcher.RetryPumpEvery),
	)
	if err := a.Dispatcher.Subscribe(recorder.Group, recorder.Pattern, recorder.New(audit, logger)); err != nil {
		return nil, err
	}
	if !cfg.Dispatcher.NotificationsOff {
		transport, err := a.notificationTransport(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		trigger := notify.New(transport, sent, cfg.NATS.SubjectPrefix, logger)
		if err := a.Dispatcher.Subscribe(notify.Group, notify.Pattern, trigger); err != nil {
			return nil, err
		}
	}

	a.Scheduler = escalation.New(approvals, outbox, tx, a.Tenants,
		escalation.WithLogger(logger),
		escalation.WithMetrics(m.Escalation),
		escalation.WithInterval(cfg.Scheduler.Interval),
		escalation.WithBatchSize(cfg.Scheduler.BatchSize),
		escalation.WithQueryTimeout(cfg.Scheduler.Timeout),
		escalation.WithArchiveAfter(cfg.Scheduler.ArchiveAfter),
	)
	return a, nil
}

func (a *App) notificationTransport(cfg config.NATSConfig, logger *slog.Logger) (notify.Transport, error) {
	if cfg.URL == "" {
		logger.Warn("NATS_URL not set, notification requests are only logged")
		return notify.LogTransport{Logger: logger}, nil
	}
	t, err := notify.NewNATS(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(t.Close)
	a.check("nats", t.Health)
	return t, nil
}

// seed loads tenant settings and approver rosters from one YAML file.
func (a *App) seed(ctx context.Context, path string) error {
	tenants, err := tenantstore.LoadSeedFile(path)
	if err != nil {
		return err
	}
	for _, s := range tenants {
		if err := a.Tenants.Put(ctx, s); err != nil {
			return fmt.Errorf("seed tenant %s: %w", s.TenantID, err)
		}
	}
	if err := directory.LoadFile(path, a.Directory); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "loaded seed file", "path", path, "tenants", len(tenants))
	return nil
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	return httptransport.NewRouter(httptransport.Deps{
		Logger:     a.Logger,
		Metrics:    a.metrics.HTTP,
		Validator:  a.Tokens(),
		AdminToken: a.Config.Server.AdminToken,
		API:        []httptransport.Module{approvalhandler.New(a.Approvals, a.audit, a.Logger)},
		Admin:      []httptransport.Module{adminhandler.New(a.Dispatcher, a.Logger)},
		Health:     a.health,
	})
}

// Tokens issues and validates bearer tokens with the configured key.
func (a *App) Tokens() *jwttoken.Service {
	return jwttoken.NewService(a.Config.Server.JWTSigningKey, a.Config.Server.JWTIssuer, a.Config.Server.JWTAudience)
}

// RunWorkers runs the relay, the outbox listener, the dispatcher and the
// scheduler until ctx is cancelled or one of them fails.
func (a *App) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.listener != nil {
		g.Go(func() error { return a.listener.Run(ctx) })
	}
	g.Go(func() error { return a.Relay.Run(ctx) })
	g.Go(func() error { return a.Dispatcher.Run(ctx) })
	g.Go(func() error { return a.Scheduler.Run(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases backing connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) check(name string, fn func(ctx context.Context) error) {
	a.health = append(a.health, httptransport.HealthCheck{Name: name, Check: fn})
}
