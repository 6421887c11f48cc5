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

	"monitoring/internal/aggregate"
	"monitoring/internal/clock"
	"monitoring/internal/config"
	"monitoring/internal/dispatch"
	"monitoring/internal/extension"
	"monitoring/internal/filter"
	"monitoring/internal/handlers"
	"monitoring/internal/ingest"
	"monitoring/internal/keepalive"
	"monitoring/internal/logging"
	"monitoring/internal/master"
	"monitoring/internal/process"
	"monitoring/internal/schedule"
	"monitoring/internal/state"
	"monitoring/internal/transport"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	staleClientInterval = 30 * time.Second
	pruneInterval       = 20 * time.Second
	resumeRetryInterval = time.Second
)

// Dependencies are the externally owned collaborators of a service.
// Params: connected store and transport, clock, logger, and extension registry (nil means built-ins).
// Returns: service wiring inputs.
type Dependencies struct {
	Store      state.Store
	Transport  transport.Transport
	Clock      clock.Clock
	Logger     *slog.Logger
	Extensions *extension.Registry
}

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable monitoring server.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
	clock    clock.Clock

	store      state.Store
	transport  transport.Transport
	extensions *extension.Registry
	inflight   *dispatch.InFlight
	dispatcher *dispatch.Dispatcher
	processor  *process.Processor
	consumer   *ingest.Consumer
	master     *master.Coordinator
	httpSrv    *http.Server

	mu           sync.Mutex
	state        State
	stopping     bool
	resuming     bool
	timersCancel context.CancelFunc
	timersWG     sync.WaitGroup
	resumeCancel context.CancelFunc
	background   sync.WaitGroup

	readyFlag atomic.Bool
	stopOnce  sync.Once
	stopErr   error
	done      chan struct{}
	fatal     chan error
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service with connected store and transport, or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	instance := uuid.NewString()
	logger = logger.With("instance", instance)
	connectionName := cfg.Service.Name + "-" + instance
	cfg.Store.NATS.ConnectionName = connectionName
	cfg.Transport.NATS.ConnectionName = connectionName

	logger.Debug("connecting to state store", "backend", cfg.Store.Backend)
	store, err := state.New(cfg.Store)
	if err != nil {
		closeLog()
		return nil, err
	}
	logger.Debug("connecting to transport", "backend", cfg.Transport.Backend)
	tr, err := transport.New(cfg.Transport)
	if err != nil {
		_ = store.Close()
		closeLog()
		return nil, err
	}

	service := Assemble(cfg, Dependencies{Store: store, Transport: tr, Clock: clk, Logger: logger})
	service.closeLog = closeLog
	return service, nil
}

// Assemble wires processing components around already connected collaborators.
// Params: config snapshot and dependencies.
// Returns: service in stopped-but-ready-to-start state.
func Assemble(cfg config.Config, deps Dependencies) *Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	extensions := deps.Extensions
	if extensions == nil {
		extensions = extension.NewDefault(logger)
	}

	settings := config.NewSettings(cfg)
	evaluator := filter.NewOttoEvaluator(time.Duration(cfg.Sandbox.TimeoutMS) * time.Millisecond)
	filters := filter.NewEngine(settings, evaluator, logger)
	resolver := handlers.NewResolver(settings, extensions, filters, clk, logger)

	inflight := dispatch.NewInFlight()
	dispatcher := dispatch.New(dispatch.Options{
		Selector:   resolver,
		Mutators:   settings,
		Extensions: extensions,
		Publisher:  deps.Transport,
		InFlight:   inflight,
		Workers:    cfg.Service.HandlerWorkers,
		Logger:     logger,
	})

	aggregator := aggregate.New(deps.Store, logger)
	processor := process.New(deps.Store, settings, aggregator, dispatcher, logger)
	scheduler := schedule.New(schedule.Options{
		Settings:   settings,
		Extensions: extensions,
		Publisher:  deps.Transport,
		Clock:      clk,
		Testing:    cfg.Service.Testing,
		Logger:     logger,
	})
	monitor := keepalive.New(deps.Store, deps.Transport, clk, logger)

	coordinator := master.New(master.Options{
		Store: deps.Store,
		Clock: clk,
		Duties: []master.Duty{
			scheduler.Run,
			func(ctx context.Context) { monitor.Run(ctx, staleClientInterval) },
			func(ctx context.Context) { aggregator.Run(ctx, pruneInterval) },
		},
		Logger: logger,
	})

	service := &Service{
		cfg:        cfg,
		logger:     logger,
		clock:      clk,
		store:      deps.Store,
		transport:  deps.Transport,
		extensions: extensions,
		inflight:   inflight,
		dispatcher: dispatcher,
		processor:  processor,
		consumer:   ingest.NewConsumer(deps.Transport, processor, logger),
		master:     coordinator,
		state:      StatePaused,
		done:       make(chan struct{}),
		fatal:      make(chan error, 2),
	}
	service.buildHTTPServer()
	service.installHooks()
	return service
}

// InFlight returns the handler dispatch counter.
func (s *Service) InFlight() *dispatch.InFlight {
	return s.inflight
}

// IsMaster reports whether this instance currently runs master duties.
func (s *Service) IsMaster() bool {
	return s.master.IsMaster()
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	if s.httpSrv != nil {
		go func() {
			s.logger.Info("http server starting", "listen", s.cfg.HTTP.Listen)
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	if err := s.Start(ctx); err != nil {
		_ = s.Stop(context.Background())
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errChan:
		_ = s.Stop(context.Background())
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigChan:
		s.logger.Warn("received signal", "signal", sig.String())
		return s.Stop(context.Background())
	case err := <-s.fatal:
		stopErr := s.Stop(context.Background())
		return errors.Join(err, stopErr)
	case <-s.done:
		return s.stopErr
	}
}

// installHooks routes store and transport connection events into the lifecycle.
func (s *Service) installHooks() {
	s.store.SetHooks(state.Hooks{
		OnError: func(err error) {
			logging.Fatal(s.logger, "state store connection error", "error", err.Error())
			s.escalate(fmt.Errorf("state store: %w", err))
		},
		BeforeReconnect: func() { s.reconnecting("state store") },
		AfterReconnect: func() {
			s.logger.Info("reconnected to state store")
			s.Resume()
		},
	})
	s.transport.SetHooks(transport.Hooks{
		OnError: func(err error) {
			logging.Fatal(s.logger, "transport connection error", "error", err.Error())
			s.escalate(fmt.Errorf("transport: %w", err))
		},
		BeforeReconnect: func() { s.reconnecting("transport") },
		AfterReconnect: func() {
			s.logger.Info("reconnected to transport")
			s.Resume()
		},
	})
}

func (s *Service) reconnecting(name string) {
	if s.cfg.Service.Testing {
		return
	}
	s.logger.Warn("reconnecting", "connection", name)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.Pause(context.Background())
	}()
}

// escalate stops the service after a fatal connection error.
func (s *Service) escalate(err error) {
	select {
	case s.fatal <- err:
	default:
	}
	go func() {
		_ = s.Stop(context.Background())
	}()
}

// buildHTTPServer wires router with result injection, health, and metrics endpoints.
// Params: none.
// Returns: none; leaves httpSrv nil when HTTP is disabled.
func (s *Service) buildHTTPServer() {
	if !s.cfg.HTTP.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(s.cfg.HTTP.MetricsPath, promhttp.Handler())
	mux.Handle(s.cfg.HTTP.ResultsPath, ingest.NewHTTPHandler(s.processor, s.cfg.HTTP.MaxBodyBytes))

	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Handler returns the HTTP router, or nil when HTTP is disabled.
func (s *Service) Handler() http.Handler {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Handler
}
