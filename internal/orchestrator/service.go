package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/ducminhle1904/futures-guardian/internal/audit"
	"github.com/ducminhle1904/futures-guardian/internal/config"
	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
	"github.com/ducminhle1904/futures-guardian/internal/exchange/bybit"
	"github.com/ducminhle1904/futures-guardian/internal/guardian"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/marketdata"
	"github.com/ducminhle1904/futures-guardian/internal/monitoring"
	"github.com/ducminhle1904/futures-guardian/internal/notifications"
	"github.com/ducminhle1904/futures-guardian/internal/risk"
	"github.com/ducminhle1904/futures-guardian/internal/safety"
	"github.com/ducminhle1904/futures-guardian/internal/state"
	"github.com/ducminhle1904/futures-guardian/internal/triggers"
)

// Options are the process-level inputs that do not live in the config file
type Options struct {
	// ConfigPath enables trigger hot reload when set
	ConfigPath string
	// Source overrides the configured snapshot source
	Source marketdata.Source
	// Venue overrides where kill-switch cancels and closing orders go
	Venue Venue
	// Transmitter forwards accepted orders; nil leaves transmission to the caller
	Transmitter Transmitter
}

// Service wires the guardian: snapshot loop, state machine, safety chain,
// risk monitor, audit sinks and alerting.
type Service struct {
	logger *logger.Logger
	config *config.GuardianConfig

	snapshots *marketdata.Store
	machine   *guardian.StateMachine
	filter    *guardian.PortfolioFilter
	chain     *safety.Chain
	gateway   *OrderGateway
	monitor   *risk.Monitor
	loop      *EvaluationLoop
	health    *monitoring.HealthChecker

	memory  *audit.MemorySink
	hub     *audit.Hub
	sink    audit.Sink
	closers []func() error

	history *state.Store
	alerts  *notifications.AlertSubscriber
	watcher *config.Watcher
}

// NewService builds every component from cfg. Configuration and persistence
// problems are returned as fatal errors; the service must not start.
func NewService(log *logger.Logger, cfg *config.GuardianConfig, opts Options) (*Service, error) {
	s := &Service{
		logger:    log.Named("service"),
		config:    cfg,
		snapshots: marketdata.NewStore(),
		filter:    guardian.NewPortfolioFilter(),
	}

	if err := s.buildAudit(); err != nil {
		s.Close()
		return nil, err
	}

	history, err := state.NewStore(log, cfg.State.Dir)
	if err != nil {
		s.Close()
		return nil, guarderrors.WrapError(err, guarderrors.ErrorCategoryFatal, "service", "open_state")
	}
	s.history = history
	s.closers = append(s.closers, history.Close)

	s.machine = guardian.NewStateMachine(log, guardian.Options{
		FailureCeiling:      cfg.Triggers.FailureCeiling,
		RecoveryCleanCycles: cfg.Recovery.CleanCycles,
		Sink:                s.sink,
		Store:               history,
	})
	records, err := history.LoadHistory()
	if err != nil {
		s.Close()
		return nil, guarderrors.WrapError(err, guarderrors.ErrorCategoryFatal, "service", "load_history")
	}
	if err := s.machine.Restore(records); err != nil {
		s.Close()
		return nil, guarderrors.WrapError(err, guarderrors.ErrorCategoryFatal, "service", "restore_history")
	}

	set, err := triggers.Build(cfg.Triggers)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := s.machine.ReplaceTriggers(set); err != nil {
		s.Close()
		return nil, guarderrors.WrapError(err, guarderrors.ErrorCategoryConfiguration, "service", "register_triggers")
	}

	gates, err := safety.Build(cfg.Gates)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.chain = safety.NewChain(log, s.sink, gates...)
	s.gateway = NewOrderGateway(log, s.chain, s.snapshots, s.machine, opts.Transmitter)

	tester, err := risk.NewStressTester(cfg.Risk.AllScenarios())
	if err != nil {
		s.Close()
		return nil, err
	}
	estimator := risk.NewEstimator(cfg.Risk.Simulations, cfg.Risk.Horizon, cfg.Risk.Seed)
	s.monitor = risk.NewMonitor(log.Named("risk"), cfg.Risk.Monitor, s.snapshots, estimator, tester, s.sink)

	source, venue := opts.Source, opts.Venue
	if source == nil {
		source, venue = s.buildSource(log, venue)
	}
	if venue == nil || cfg.Evaluation.DryRun {
		venue = NewLoggingVenue(log)
	}
	s.machine.OnEmergency(EmergencyHandler(NewGatedExecutor(log, venue, s.gateway), 10*time.Second))

	s.loop = NewEvaluationLoop(log, LoopConfig{
		Interval:     cfg.Evaluation.Interval,
		FetchTimeout: cfg.Evaluation.FetchTimeout,
		Bands:        cfg.Bands,
	}, source, s.snapshots, s.machine)
	s.loop.SetRiskReader(s.monitor)

	days, err := state.NewDayTracker(log, cfg.State.Timezone, filepath.Join(cfg.State.Dir, "day.json"))
	if err != nil {
		s.Close()
		return nil, guarderrors.WrapError(err, guarderrors.ErrorCategoryConfiguration, "service", "day_tracker")
	}
	s.loop.SetDayTracker(days)

	if cfg.Notifications.Enabled {
		notifier := notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
		s.alerts = notifications.NewAlertSubscriber(log, notifier, cfg.Notifications.PerMinute, cfg.Notifications.Burst)
		s.machine.Subscribe(s.alerts.OnTransition)
	}

	if opts.ConfigPath != "" {
		w, err := config.NewWatcher(log, opts.ConfigPath, s.ReloadTriggers)
		if err != nil {
			s.logger.LogWarning("Config watcher", "hot reload disabled: %v", err)
		} else {
			s.watcher = w
		}
	}

	s.health = monitoring.NewHealthChecker(s, cfg.Server.MaxSnapshotAge)
	return s, nil
}

func (s *Service) buildAudit() error {
	cfg := s.config.Audit
	s.memory = audit.NewMemorySink(cfg.MemoryLimit)
	s.hub = audit.NewHub(cfg.StreamBuffer)
	sinks := []audit.Sink{s.memory, s.hub}

	if cfg.JSONLPath != "" {
		jl, err := audit.OpenJSONL(cfg.JSONLPath)
		if err != nil {
			return guarderrors.WrapError(err, guarderrors.ErrorCategoryFatal, "service", "open_audit_log")
		}
		sinks = append(sinks, jl)
		s.closers = append(s.closers, jl.Close)
	}
	if cfg.PostgresDSN != "" {
		pg, err := audit.NewPostgresSink(cfg.PostgresDSN, cfg.DBTimeout)
		if err != nil {
			return guarderrors.WrapError(err, guarderrors.ErrorCategoryFatal, "service", "open_audit_db")
		}
		sinks = append(sinks, pg)
		s.closers = append(s.closers, pg.Close)
	}

	s.sink = audit.NewMultiSink(func(i int, err error) {
		monitoring.RecordError("audit")
		s.logger.Error("Audit sink %d failed: %v", i, err)
	}, sinks...)
	return nil
}

// buildSource picks the configured snapshot source and, for a live exchange,
// the matching emergency venue unless one was supplied
func (s *Service) buildSource(log *logger.Logger, venue Venue) (marketdata.Source, Venue) {
	ex := s.config.Exchange
	if ex.Source != config.SourceBybit {
		return marketdata.NewFileSource(ex.SnapshotFile, true), venue
	}

	client := bybit.NewClient(bybit.Config{APIKey: ex.APIKey, APISecret: ex.APISecret, Testnet: ex.Testnet})
	source := bybit.NewSnapshotSource(log, client, bybit.SourceConfig{
		Category:   ex.Category,
		SettleCoin: ex.SettleCoin,
		Symbols:    ex.Symbols,
		Timeout:    s.config.Evaluation.FetchTimeout,
		Breaker:    ex.Breaker,
	})
	if venue == nil {
		venue = bybit.NewFlattener(log, client, ex.Category, ex.SettleCoin)
	}
	return source, venue
}

// Run starts the background components, initializes the machine after a
// first evaluation and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	var wg conc.WaitGroup

	wg.Go(func() { s.hub.Run(ctx) })
	if s.alerts != nil {
		wg.Go(func() { s.alerts.Run(ctx) })
	}
	if s.watcher != nil {
		wg.Go(func() {
			if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.LogError("Config watcher", err)
			}
		})
	}

	// a first pass in INIT so RUNNING starts from a real snapshot
	s.loop.RunOnce(ctx)
	s.monitor.RunOnce(time.Now())
	if !s.machine.Initialize() {
		s.logger.Warning("Guardian not initialized, mode %s", s.machine.ModeName())
	}

	wg.Go(func() { s.monitor.Run(ctx) })
	wg.Go(func() { s.loop.Run(ctx) })

	<-ctx.Done()
	s.logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.gateway.Shutdown(shutdownCtx); err != nil {
		s.logger.LogError("Gateway shutdown", err)
	}
	wg.Wait()
	return nil
}

// ReloadTriggers swaps the trigger set for the thresholds in cfg. Gates keep their startup config.
func (s *Service) ReloadTriggers(cfg *config.GuardianConfig) error {
	set, err := triggers.Build(cfg.Triggers)
	if err != nil {
		return err
	}
	if err := s.machine.ReplaceTriggers(set); err != nil {
		return fmt.Errorf("replace triggers: %w", err)
	}
	s.logger.Info("Reloaded %d triggers: %v", len(set), s.machine.TriggerIDs())
	return nil
}

// Close releases the audit sinks and the state store
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// ModeName implements monitoring.StatusProvider
func (s *Service) ModeName() string { return s.machine.ModeName() }

// Overridden implements monitoring.StatusProvider
func (s *Service) Overridden() bool { return s.machine.Overridden() }

// SnapshotAge implements monitoring.StatusProvider
func (s *Service) SnapshotAge() (time.Duration, bool) { return s.snapshots.Age() }

func (s *Service) Machine() *guardian.StateMachine   { return s.machine }
func (s *Service) Filter() *guardian.PortfolioFilter { return s.filter }
func (s *Service) Gateway() *OrderGateway            { return s.gateway }
func (s *Service) Snapshots() *marketdata.Store      { return s.snapshots }
func (s *Service) Monitor() *risk.Monitor            { return s.monitor }
func (s *Service) Loop() *EvaluationLoop             { return s.loop }
func (s *Service) Health() *monitoring.HealthChecker { return s.health }
func (s *Service) Hub() *audit.Hub                   { return s.hub }
func (s *Service) Memory() *audit.MemorySink         { return s.memory }
