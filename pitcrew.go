package pitcrew

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/pitcrew/internal/agents"
	"github.com/aretw0/pitcrew/internal/config"
	"github.com/aretw0/pitcrew/internal/logging"
	httpadapter "github.com/aretw0/pitcrew/pkg/adapters/http"
	"github.com/aretw0/pitcrew/pkg/adapters/memory"
	natsadapter "github.com/aretw0/pitcrew/pkg/adapters/nats"
	redisadapter "github.com/aretw0/pitcrew/pkg/adapters/redis"
	"github.com/aretw0/pitcrew/pkg/bus"
	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/aretw0/pitcrew/pkg/engine"
	"github.com/aretw0/pitcrew/pkg/observability"
	"github.com/aretw0/pitcrew/pkg/persistence/middleware"
	"github.com/aretw0/pitcrew/pkg/ports"
	"github.com/aretw0/pitcrew/pkg/timeout"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time with -ldflags "-X github.com/aretw0/pitcrew.Version=...".
var Version = "dev"

// System is a fully wired pitcrew instance: bus, timeout tracker, workflow
// engine, archive, audit sinks and metrics, built from a config.Config.
type System struct {
	Config  *config.Config
	Logger  *slog.Logger
	Bus     *bus.Bus
	Tracker *timeout.Tracker
	Engine  *engine.Engine
	Metrics *observability.Metrics
	Archive ports.WorkflowArchive
	Quality *agents.QualityAnalyst

	redis     *goredis.Client
	publisher natsadapter.Publisher
	closers   []func() error
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *System) {
		s.Logger = logger
	}
}

// WithRedisClient uses client instead of dialing cfg.Redis.Address.
// The caller keeps ownership of client.
func WithRedisClient(client *goredis.Client) Option {
	return func(s *System) {
		s.redis = client
	}
}

// WithAuditPublisher streams the audit trail through pub instead of
// connecting to cfg.NATS.URL.
func WithAuditPublisher(pub natsadapter.Publisher) Option {
	return func(s *System) {
		s.publisher = pub
	}
}

// New builds a System. A nil cfg means config.Default().
func New(cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}

	s := &System{Config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		s.Logger = logging.New(logging.ParseLevel(cfg.Log.Level))
	}
	s.Metrics = observability.NewMetrics(observability.WithLogger(s.Logger))

	sinks, err := s.wireStorage()
	if err != nil {
		_ = s.closeExternal()
		return nil, err
	}

	busOpts := []bus.Option{
		bus.WithLogger(s.Logger),
		bus.WithQueueCapacity(cfg.Bus.QueueCapacity),
		bus.WithAuditLimit(cfg.Bus.AuditLimit, cfg.Bus.AuditKeep),
		bus.WithMonitorChannel(cfg.Bus.MonitorChannel),
		bus.WithObserver(s.Metrics),
	}
	if len(sinks) > 0 {
		busOpts = append(busOpts, bus.WithAuditSink(sinks))
	}
	s.Bus = bus.New(busOpts...)

	s.Tracker = timeout.New(
		timeout.WithLogger(s.Logger),
		timeout.WithPollInterval(cfg.Timeout.PollInterval()),
		timeout.WithObserver(s.Metrics),
	)

	s.Engine = engine.New(s.Bus, s.Tracker,
		engine.WithLogger(s.Logger),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithMaxRetries(cfg.Engine.MaxRetries),
		engine.WithBackoffBase(cfg.Engine.BackoffBase()),
		engine.WithStageTimeout(cfg.Engine.StageTimeout()),
		engine.WithUrgencyThreshold(cfg.Engine.UrgencyThreshold),
		engine.WithCriticalThreshold(cfg.Engine.CriticalThreshold),
		engine.WithErrorBuffer(cfg.Engine.ErrorBuffer),
		engine.WithArchive(s.Archive),
		engine.WithHooks(s.Metrics.Hooks()),
	)

	if cfg.Agents.Baseline {
		agents.New().Register(s.Engine, cfg.Agents.Urgency)
	}
	if cfg.Agents.Quality {
		s.Quality = agents.NewQualityAnalyst()
		s.Bus.Subscribe(domain.ChannelManufacturingInsight, s.Quality)
	}
	return s, nil
}

// wireStorage picks the archive and collects the external audit sinks.
func (s *System) wireStorage() (auditFanout, error) {
	cfg := s.Config
	var sinks auditFanout

	s.Archive = memory.NewArchive()
	if cfg.Archive.Backend == "redis" || cfg.Redis.Audit {
		if s.redis == nil {
			s.redis = redisadapter.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
			s.closers = append(s.closers, s.redis.Close)
		}
		if cfg.Archive.Backend == "redis" {
			s.Archive = redisadapter.NewArchive(s.redis,
				redisadapter.WithPrefix(cfg.Redis.Prefix),
				redisadapter.WithTTL(cfg.Redis.TTL()),
			)
		}
		if cfg.Redis.Audit {
			sinks = append(sinks, redisadapter.NewAuditSink(s.redis,
				redisadapter.WithAuditKey(cfg.Redis.Prefix+"audit"),
				redisadapter.WithAuditLimit(int64(cfg.Bus.AuditLimit)),
			))
		}
	}

	mws, err := archiveMiddleware(cfg.Archive)
	if err != nil {
		return nil, err
	}
	s.Archive = middleware.Chain(s.Archive, mws...)

	if s.publisher == nil && cfg.NATS.URL != "" {
		conn, err := natsadapter.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		s.publisher = conn
		s.closers = append(s.closers, conn.Drain)
	}
	if s.publisher != nil {
		sinks = append(sinks, natsadapter.NewAuditSink(s.publisher,
			natsadapter.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
		))
	}
	return sinks, nil
}

// archiveMiddleware masks configured fields first, then seals the record.
func archiveMiddleware(cfg config.ArchiveConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(cfg.MaskFields) > 0 {
		mask, err := middleware.NewPIIMiddleware(cfg.MaskFields)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mask)
	}
	if cfg.EncryptionKey != "" {
		enc := middleware.EncryptionConfig{}
		var err error
		if enc.ActiveKey, err = middleware.ParseKey(cfg.EncryptionKey); err != nil {
			return nil, fmt.Errorf("archive.encryption_key: %w", err)
		}
		for _, k := range cfg.FallbackKeys {
			key, err := middleware.ParseKey(k)
			if err != nil {
				return nil, fmt.Errorf("archive.fallback_keys: %w", err)
			}
			enc.FallbackKeys = append(enc.FallbackKeys, key)
		}
		seal, err := middleware.NewEncryptionMiddleware(enc)
		if err != nil {
			return nil, err
		}
		mws = append(mws, seal)
	}
	return mws, nil
}

// Start launches the timeout watchdog and the engine workers.
func (s *System) Start(ctx context.Context) error {
	if err := s.Tracker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start timeout tracker: %w", err)
	}
	if err := s.Engine.Start(ctx); err != nil {
		s.Tracker.Stop()
		return fmt.Errorf("failed to start engine: %w", err)
	}
	s.Logger.Info("pitcrew started",
		"version", Version,
		"workers", s.Config.Engine.Workers,
		"archive", s.Config.Archive.Backend,
	)
	return nil
}

// Run runs the watchdog and the engine until ctx is done, then closes the system.
func (s *System) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Tracker.Run(gctx) })
	g.Go(func() error { return s.Engine.Run(gctx) })
	err := g.Wait()

	closeCtx := context.WithoutCancel(ctx)
	return errors.Join(err, s.Close(closeCtx))
}

// Close stops the engine and the watchdog, flushes the bus and releases
// external connections. It is safe to call more than once.
func (s *System) Close(ctx context.Context) error {
	s.Engine.Stop()
	s.Tracker.Stop()
	if s.Quality != nil {
		s.Bus.Unsubscribe(domain.ChannelManufacturingInsight, s.Quality)
	}
	err := s.Bus.Close(ctx)
	return errors.Join(err, s.closeExternal())
}

func (s *System) closeExternal() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// HTTPServer builds the status API on top of the system.
func (s *System) HTTPServer() *httpadapter.Server {
	return httpadapter.New(s.Engine, s.Bus,
		httpadapter.WithLogger(s.Logger),
		httpadapter.WithMetrics(s.Metrics.Handler()),
		httpadapter.WithVersion(Version),
	)
}

// HTTPHandler is HTTPServer().Handler() for callers that never detach it.
func (s *System) HTTPHandler() http.Handler {
	return s.HTTPServer().Handler()
}

// auditFanout forwards every batch to each sink and joins their errors.
type auditFanout []ports.AuditSink

func (f auditFanout) Record(ctx context.Context, entries []domain.AuditEntry) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Record(ctx, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
