package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/txn2/session-gateway/pkg/api"
	"github.com/txn2/session-gateway/pkg/credential"
	credpostgres "github.com/txn2/session-gateway/pkg/credential/postgres"
	credredis "github.com/txn2/session-gateway/pkg/credential/redis"
	"github.com/txn2/session-gateway/pkg/database/migrate"
	"github.com/txn2/session-gateway/pkg/events"
	"github.com/txn2/session-gateway/pkg/health"
	"github.com/txn2/session-gateway/pkg/metrics"
	"github.com/txn2/session-gateway/pkg/protocol"
	"github.com/txn2/session-gateway/pkg/session"
)

const readHeaderTimeout = 10 * time.Second

// Platform wires the gateway components together.
type Platform struct {
	config *Config

	lifecycle *Lifecycle
	health    *health.Checker
	registry  *prometheus.Registry
	metrics   *metrics.Metrics

	db      *sql.DB
	ownsDB  bool
	store   credential.Store
	client  protocol.Client
	hub     *events.Hub
	webhook *events.Webhook
	manager *session.Manager

	handler    http.Handler
	server     *http.Server
	listener   net.Listener
	baseCancel context.CancelFunc
}

// New creates a new platform instance.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	applyDefaults(options.Config)
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		config:    options.Config,
		lifecycle: NewLifecycle(),
		health:    health.NewChecker(),
		registry:  options.Registry,
	}

	if err := p.initializeComponents(options); err != nil {
		if cerr := p.closeStore(); cerr != nil {
			slog.Warn("platform: closing store after failed init", "error", cerr)
		}
		return nil, fmt.Errorf("initializing components: %w", err)
	}

	return p, nil
}

// initializeComponents initializes all platform components.
func (p *Platform) initializeComponents(opts *Options) error {
	p.initMetrics()
	if err := p.initStore(opts); err != nil {
		return err
	}
	p.initSessions(opts)
	p.initHTTP()
	p.registerLifecycle()
	return nil
}

func (p *Platform) initMetrics() {
	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	p.metrics = metrics.New(p.registry)
}

// initStore creates the credential store for the configured backend.
func (p *Platform) initStore(opts *Options) error {
	if opts.CredentialStore != nil {
		p.store = opts.CredentialStore
		p.health.AddProbe("credentials", p.store.Ping)
		return nil
	}

	cfg := p.config.Credentials
	key, err := credential.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	codec, err := credential.NewCodec(key)
	if err != nil {
		return err
	}

	switch cfg.Backend {
	case BackendPostgres:
		if err := p.openDatabase(opts.DB); err != nil {
			return err
		}
		p.store = credpostgres.New(p.db, credpostgres.Config{Codec: codec})
	case BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
		defer cancel()
		client, err := credredis.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		p.store = credredis.New(client, credredis.Config{Codec: codec, KeyPrefix: cfg.Redis.KeyPrefix})
	default:
		p.store = credential.NewMemoryStore(codec)
	}

	slog.Info("platform: credential store ready",
		"backend", cfg.Backend, "sealed", codec.Sealed())
	p.health.AddProbe("credentials", p.store.Ping)
	return nil
}

// openDatabase uses db when given, otherwise opens the configured DSN, and
// applies migrations when enabled.
func (p *Platform) openDatabase(db *sql.DB) error {
	cfg := p.config.Credentials.Postgres
	if db == nil {
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		p.ownsDB = true
	}
	p.db = db

	if cfg.RunMigrations {
		if err := migrate.Run(db); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}
	return nil
}

// initSessions creates the event sinks and the session manager.
func (p *Platform) initSessions(opts *Options) {
	cfg := p.config

	p.hub = events.NewHub(cfg.Events.SubscriberBuffer, p.metrics)
	var sink events.Sink = p.hub
	if cfg.Events.Webhook.URL != "" {
		p.webhook = events.NewWebhook(events.WebhookConfig{
			URL:        cfg.Events.Webhook.URL,
			Timeout:    cfg.Events.Webhook.Timeout,
			QueueSize:  cfg.Events.Webhook.QueueSize,
			MaxRetries: cfg.Events.Webhook.MaxRetries,
			Metrics:    p.metrics,
		})
		sink = events.Multi{p.hub, p.webhook}
	}

	p.client = opts.Client
	if p.client == nil {
		slog.Warn("platform: using loopback protocol client", "pair_delay", cfg.Protocol.PairDelay)
		p.client = protocol.NewLoopback(cfg.Protocol.PairDelay)
	}

	managerOpts := []session.Option{session.WithSink(sink), session.WithMetrics(p.metrics)}
	if opts.Clock != nil {
		managerOpts = append(managerOpts, session.WithClock(opts.Clock))
	}
	p.manager = session.New(p.client, p.store, session.Config{
		MaxSessions: cfg.Sessions.MaxSessions,
		IdleTimeout: *cfg.Sessions.IdleTimeout,
		Reconnect: session.PolicyConfig{
			MaxAttempts:     *cfg.Sessions.MaxReconnectAttempts,
			InitialInterval: cfg.Sessions.Reconnect.InitialInterval,
			MaxInterval:     cfg.Sessions.Reconnect.MaxInterval,
			Multiplier:      cfg.Sessions.Reconnect.Multiplier,
			Randomization:   cfg.Sessions.Reconnect.Randomization,
		},
		StoreTimeout: cfg.Credentials.OperationTimeout,
	}, managerOpts...)
}

func (p *Platform) initHTTP() {
	cfg := p.config.Server
	p.handler = api.NewHandler(p.manager, p.hub, api.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		SendInterval:   cfg.SendInterval,
		JWTSecret:      cfg.Auth.JWTSecret,
		TenantClaim:    cfg.Auth.TenantClaim,
	},
		api.WithHealth(p.health.LivenessHandler(), p.health.ReadinessHandler()),
		api.WithMetrics(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})),
	)
	// Request contexts derive from baseCtx so open event streams end when
	// shutdown begins.
	baseCtx, cancel := context.WithCancel(context.Background())
	p.baseCancel = cancel
	p.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           p.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
}

// registerLifecycle orders startup and shutdown. The HTTP server stops
// first and the credential store last.
func (p *Platform) registerLifecycle() {
	p.lifecycle.OnStop("credential store", func(context.Context) error {
		return p.closeStore()
	})
	if p.webhook != nil {
		p.lifecycle.OnStop("webhook", p.webhook.Close)
	}
	p.lifecycle.OnStop("session manager", p.manager.Close)
	p.lifecycle.Append("http server", p.startServer, p.stopServer)
}

func (p *Platform) startServer(context.Context) error {
	ln, err := net.Listen("tcp", p.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", p.server.Addr, err)
	}
	p.listener = ln

	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("platform: http server failed", "error", err)
		}
	}()

	p.health.SetReady()
	slog.Info("platform: listening", "address", ln.Addr().String())
	return nil
}

func (p *Platform) stopServer(ctx context.Context) error {
	p.health.SetDraining()
	p.baseCancel()
	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// closeStore releases the credential store and the database it opened.
func (p *Platform) closeStore() error {
	var errs []error
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.ownsDB {
		if err := p.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start starts the platform.
func (p *Platform) Start(ctx context.Context) error {
	return p.lifecycle.Start(ctx)
}

// Stop gracefully stops the platform. Live sessions are soft-closed with
// their credentials kept.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Config returns the gateway configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Handler returns the HTTP handler.
func (p *Platform) Handler() http.Handler {
	return p.handler
}

// Manager returns the session manager.
func (p *Platform) Manager() *session.Manager {
	return p.manager
}

// Health returns the health checker.
func (p *Platform) Health() *health.Checker {
	return p.health
}

// Addr returns the address the HTTP server is listening on, or nil before
// Start.
func (p *Platform) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}
