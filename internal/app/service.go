package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertresolver/internal/alerts"
	"alertresolver/internal/channel"
	"alertresolver/internal/clock"
	"alertresolver/internal/config"
	"alertresolver/internal/engine"
	"alertresolver/internal/inventory"
	"alertresolver/internal/logging"
	"alertresolver/internal/metrics"
	"alertresolver/internal/state"
	"alertresolver/internal/telemetry"
	"alertresolver/internal/trigger"
)

var errNotRunning = errors.New("service is not running")

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable alert resolver service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	store     state.Store
	channels  *channel.Set
	inventory *inventory.File
	processor *engine.Processor
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	tickBusy  atomic.Bool
	clock     clock.Clock

	mu      sync.Mutex
	runCtx  context.Context
	stopRun context.CancelFunc
	closing bool
	ticks   sync.WaitGroup
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service, err := newService(cfg, logger, clk)
	if err != nil {
		closeLog()
		return nil, err
	}
	service.closeLog = closeLog
	return service, nil
}

// newService wires components from a validated config snapshot.
func newService(cfg config.Config, logger *slog.Logger, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	service := &Service{
		cfg:       cfg,
		logger:    logger,
		inventory: inventory.NewFile(cfg.Service.InventoryFile),
		clock:     clk,
	}

	source, err := telemetry.NewPrometheusSource(cfg.Telemetry, clk)
	if err != nil {
		return nil, err
	}
	catalog, err := alerts.NewCatalog(cfg.Alert, source, clk)
	if err != nil {
		return nil, err
	}
	registry := channel.NewRegistry(catalog.Types())
	registry.RegisterFromConfig(cfg.Channel)

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	service.store = store

	channels, err := channel.Build(cfg, logger, clk)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.channels = channels
	for _, ch := range channels.CreateChannels() {
		logger.Info("channel registered",
			"channel", ch.Name(),
			"enabled", ch.IsEnabled() && registry.IsChannelEnabled(ch.Name()),
			"alert_types", registry.AlertTypes(ch.Name()),
			"active_alert_ttl", ch.ActiveAlertTTL(),
		)
	}

	processor, err := engine.NewProcessor(engine.Options{
		Catalog:  catalog,
		Channels: channels,
		Registry: registry,
		Runs:     store,
		Active:   store,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.processor = processor

	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	logger.Info("service configured",
		"store", cfg.Store.Backend,
		"alert_types", catalog.Types(),
		"channels", cfg.ChannelNames(),
		"inventory", cfg.Service.InventoryFile,
	)
	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	s.mu.Lock()
	s.runCtx = runCtx
	s.stopRun = stopRun
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.cfg.Service.RunOnStart {
		_ = s.TriggerTick(trigger.SourceSchedule)
	}

	ticker := time.NewTicker(s.cfg.Service.TickInterval())
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.TriggerTick(trigger.SourceSchedule); errors.Is(err, trigger.ErrBusy) {
					s.logger.Warn("previous tick still running, scheduled tick skipped")
				}
			}
		}
	}()

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// TriggerTick starts one tick in the background unless another one runs.
// Params: trigger source name.
// Returns: trigger.ErrBusy on overlap, errNotRunning outside Run.
func (s *Service) TriggerTick(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx == nil || s.closing || s.runCtx.Err() != nil {
		metrics.TicksTotal.WithLabelValues(source, "rejected").Inc()
		return errNotRunning
	}
	if !s.tickBusy.CompareAndSwap(false, true) {
		metrics.TicksTotal.WithLabelValues(source, "rejected").Inc()
		return trigger.ErrBusy
	}

	ctx := s.runCtx
	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		defer s.tickBusy.Store(false)
		_ = s.runTick(ctx, source)
	}()
	return nil
}

// runTick loads the inventory and processes alerts under the tick deadline.
// Params: parent context and trigger source.
// Returns: inventory or tick error; channel failures are only logged.
func (s *Service) runTick(ctx context.Context, source string) error {
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.Service.TickTimeout())
	defer cancel()
	startedAt := time.Now()

	connectors, err := s.inventory.Connectors(tickCtx)
	if err != nil {
		s.logger.Error("inventory load failed", "trigger", source, "error", err.Error())
		metrics.TicksTotal.WithLabelValues(source, "failed").Inc()
		return err
	}

	report, err := s.processor.ProcessAlerts(tickCtx, connectors)
	result := "ok"
	if err != nil {
		result = "failed"
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("tick processing failed", "trigger", source, "error", err.Error())
		}
	}
	metrics.TicksTotal.WithLabelValues(source, result).Inc()

	s.logger.Info("tick finished",
		"trigger", source,
		"connectors", len(connectors),
		"definitions", report.Definitions,
		"throttled", report.Throttled,
		"evaluated", report.Evaluated,
		"failed", report.Failed,
		"raises", report.Raises,
		"resolves", report.Resolves,
		"duration", time.Since(startedAt).String(),
	)
	if channelErr := report.Err(); channelErr != nil {
		s.logger.Warn("tick finished with channel errors", "trigger", source, "error", channelErr.Error())
	}
	return err
}

// RunOnce processes one tick synchronously and releases every resource.
// Params: root context.
// Returns: tick error.
func (s *Service) RunOnce(ctx context.Context) error {
	err := s.runTick(ctx, trigger.SourceManual)
	s.cleanupInitResources()
	if s.closeLog != nil {
		s.closeLog()
	}
	return err
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	s.mu.Lock()
	s.closing = true
	if s.stopRun != nil {
		s.stopRun()
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats trigger close failed", "error", err.Error())
			markErr(fmt.Errorf("nats trigger close: %w", err))
		}
	}

	s.ticks.Wait()

	if err := s.channels.Close(); err != nil {
		s.logger.Error("channel close failed", "error", err.Error())
		markErr(fmt.Errorf("channel close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.channels != nil {
		_ = s.channels.Close()
		s.channels = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
}

// buildHTTPServer wires router with health, metrics, and trigger endpoints.
func (s *Service) buildHTTPServer() {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Service) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get(s.cfg.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	router.Get(s.cfg.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	router.Handle(s.cfg.HTTP.MetricsPath, promhttp.Handler())
	router.Handle(s.cfg.HTTP.TriggerPath, trigger.NewHTTPHandler(s, s.logger))
	return router
}

// buildNATSSubscriber starts the NATS tick trigger when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Trigger.NATS.Enabled {
		return nil
	}
	subscriber, err := trigger.NewNATSSubscriber(s.cfg.Trigger.NATS, s, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildStore creates runtime state backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (state.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendNATS:
		return state.NewNATSStore(cfg.Store.NATS)
	case config.StoreBackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Store.Postgres.ConnectTimeoutSec)*time.Second)
		defer cancel()
		return state.NewPostgresStore(ctx, cfg.Store.Postgres)
	case config.StoreBackendSQLite:
		return state.NewSQLiteStore(cfg.Store.SQLite)
	case config.StoreBackendMemory:
		return state.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}
