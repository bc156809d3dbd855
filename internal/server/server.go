package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/egsm/perftrace/internal/api/http"
	"github.com/egsm/perftrace/internal/api/middleware"
	"github.com/egsm/perftrace/internal/api/ws"
	"github.com/egsm/perftrace/internal/domain/correlation"
	"github.com/egsm/perftrace/internal/domain/dispatch"
	"github.com/egsm/perftrace/internal/domain/export"
	"github.com/egsm/perftrace/internal/domain/sharedstate"
	"github.com/egsm/perftrace/internal/domain/trace"
	"github.com/egsm/perftrace/internal/infrastructure/config"
	"github.com/egsm/perftrace/internal/infrastructure/logging"
	"github.com/egsm/perftrace/internal/infrastructure/monitoring"
	"github.com/egsm/perftrace/internal/infrastructure/tracing"
	"github.com/egsm/perftrace/internal/shared/clock"
	"github.com/egsm/perftrace/internal/shared/paths"
)

const shutdownTimeout = 10 * time.Second

// Options overrides collaborators, mainly for tests.
type Options struct {
	Clock clock.Clock
}

// Server wraps the HTTP server and dependencies
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	log       *zap.Logger
	layout    paths.Layout
	metrics   *monitoring.Metrics
	bus       *tracing.Bus
	store     *trace.Store
	sync      *sharedstate.Synchronizer
	exporter  *export.Exporter
	events    *dispatch.Manager
	observer  *dispatch.Observer
	wsHandler *ws.Handler
	router    *gin.Engine
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger, opts ...Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	log := logger.ForComponent(cfg.Component)

	ingress, err := trace.ParseStage(cfg.Tracer.IngressStage)
	if err != nil {
		return nil, fmt.Errorf("invalid ingress stage: %w", err)
	}
	emit, err := trace.ParseStage(cfg.Tracer.EmitStage)
	if err != nil {
		return nil, fmt.Errorf("invalid emit stage: %w", err)
	}

	layout, err := paths.Resolve(cfg.Tracer.SharedDir, cfg.Tracer.FallbackDir, cfg.Component)
	if err != nil {
		return nil, err
	}
	if layout.Fallback {
		log.Warn("shared directory unavailable, using local fallback",
			zap.String("shared_dir", cfg.Tracer.SharedDir),
			zap.String("dir", layout.Dir))
	}

	log.Info("Initializing tracer",
		zap.String("dir", layout.Dir),
		zap.Duration("trace_timeout", cfg.Tracer.TraceTimeout),
		zap.Duration("retention", cfg.Tracer.Retention),
	)

	metrics := monitoring.NewMetrics(nil)
	bus := tracing.NewBus(log)

	store := trace.NewStore(trace.Options{
		Component: cfg.Component,
		Timeout:   cfg.Tracer.TraceTimeout,
		Clock:     o.Clock,
		Logger:    log,
		Sink:      trace.Sinks{bus, metricsSink(metrics)},
	})

	syncer := sharedstate.New(store, sharedstate.Options{
		Path:      layout.TracesPath(),
		Retention: cfg.Tracer.Retention,
		Interval:  cfg.Tracer.SyncInterval,
		ReloadRPS: cfg.Tracer.ReloadRPS,
		Clock:     o.Clock,
		Logger:    log,
		Observe:   metrics.ObserveSync,
	})
	store.AttachShared(syncer)

	exporter := export.New(store, export.Options{
		Layout:       layout,
		Prefix:       cfg.Export.Prefix,
		Compress:     cfg.Export.Compress,
		Keep:         cfg.Export.Keep,
		CollectorURL: cfg.Export.CollectorURL,
		Clock:        o.Clock,
		Logger:       log,
		Observe:      metrics.ObserveExport,
	})

	matcher := correlation.NewMatcher(cfg.Tracer.TrackableEvents, cfg.Tracer.MatchWindow)
	observer := dispatch.NewObserver(store, correlation.NewResolver(matcher, store, o.Clock), dispatch.Options{
		Writer:       cfg.Component,
		IngressStage: ingress,
		EmitStage:    emit,
		Logger:       log,
	})

	metrics.RegisterGauge("traces_resident", "Traces held in memory", func() float64 {
		return float64(store.Len())
	})
	metrics.RegisterGauge("traces_pending", "Traces awaiting a terminal state", func() float64 {
		return float64(len(store.Pending()))
	})
	metrics.RegisterGauge("shared_state_breaker_state", "Shared-state breaker: 0 closed, 1 half-open, 2 open", func() float64 {
		return float64(syncer.Breaker().State())
	})

	s := &Server{
		config:    cfg,
		logger:    logger,
		log:       log,
		layout:    layout,
		metrics:   metrics,
		bus:       bus,
		store:     store,
		sync:      syncer,
		exporter:  exporter,
		events:    dispatch.NewManager(cfg.Component, observer, log),
		observer:  observer,
		wsHandler: ws.NewHandler(bus, metrics, log),
	}
	s.router = s.buildRouter()

	log.Info("Tracer initialized successfully")
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware())
	router.Use(monitoring.Middleware(s.metrics, "/metrics", "/stream"))
	router.Use(middleware.CORS(s.config.Server.CORSOrigins...))
	if s.config.RateLimit.Enabled {
		s.log.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			Burst:             s.config.RateLimit.Burst,
		}))
	}

	apihttp.NewHandlers(s.store, s.exporter, s.metrics, s.log).Register(router)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.GET("/stream", s.wsHandler.HandleConnection)

	return router
}

// Router returns the HTTP handler.
func (s *Server) Router() *gin.Engine { return s.router }

// Store returns the trace store.
func (s *Server) Store() *trace.Store { return s.store }

// Events returns the instrumented event manager.
func (s *Server) Events() *dispatch.Manager { return s.events }

// Observer returns the transport observer.
func (s *Server) Observer() *dispatch.Observer { return s.observer }

// Bus returns the lifecycle event bus.
func (s *Server) Bus() *tracing.Bus { return s.bus }

// Layout returns the resolved directories.
func (s *Server) Layout() paths.Layout { return s.layout }

// Run loads shared state, then serves HTTP and runs the sync loop until
// ctx is done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if n, err := s.sync.Load(); err != nil {
		s.log.Warn("initial shared-state load failed", zap.Error(err))
	} else {
		s.log.Info("shared state loaded", zap.Int("traces", n))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := s.sync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("sync loop stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP shutdown failed", zap.Error(err))
	}
	return nil
}

// Cleanup is the shutdown path. It stops background saves, merges the
// latest shared state, writes it back, exports the result and resets the
// store. Call it after Run has returned.
func (s *Server) Cleanup(ctx context.Context) (export.Paths, error) {
	s.sync.Close()
	if _, err := s.sync.Load(); err != nil {
		s.log.Warn("shared-state reload before export failed", zap.Error(err))
	}
	if err := s.sync.Flush(); err != nil {
		s.log.Warn("shared-state flush before export failed", zap.Error(err))
	}

	out, err := s.exporter.Export(ctx)
	if err != nil {
		return export.Paths{}, err
	}
	s.log.Info("performance data exported",
		zap.String("snapshot", out.Snapshot),
		zap.String("summary", out.Summary),
		zap.String("detail", out.Detail))

	s.store.Reset()
	return out, nil
}

// Close stops background work and syncs the logger.
func (s *Server) Close() error {
	s.log.Info("Shutting down tracer...")
	s.sync.Close()
	s.bus.Close()
	return s.logger.Flush()
}

// metricsSink feeds lifecycle events into the Prometheus metrics.
func metricsSink(m *monitoring.Metrics) trace.Sink {
	return trace.SinkFunc(func(ev trace.Event) {
		switch ev.Kind {
		case trace.EventBegun:
			m.TraceStarted()
		case trace.EventStage:
			m.StageRecorded(string(ev.Stage))
		case trace.EventCompleted:
			var e2e int64
			if ev.EndToEnd != nil {
				e2e = *ev.EndToEnd
			}
			m.TraceCompleted(e2e, hopMillis(ev.Hops))
		case trace.EventIncomplete:
			m.TraceIncomplete(ev.Reason, hopMillis(ev.Hops))
		case trace.EventEvicted:
			m.TraceEvicted()
		}
	})
}

func hopMillis(hops []trace.Hop) map[string]int64 {
	if len(hops) == 0 {
		return nil
	}
	out := make(map[string]int64, len(hops))
	for _, h := range hops {
		out[h.Name()] = h.Millis
	}
	return out
}
