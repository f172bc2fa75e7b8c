package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/futures-guardian/internal/audit"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/internal/monitoring"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// SnapshotReader returns the latest published snapshot
type SnapshotReader interface {
	Latest() *types.Snapshot
}

// MonitorConfig controls the slow-cadence risk computation
type MonitorConfig struct {
	Interval   time.Duration `json:"interval" yaml:"interval"`
	Method     VaRMethod     `json:"method" yaml:"method"`
	Confidence float64       `json:"confidence" yaml:"confidence"`
	WindowSize int           `json:"window_size" yaml:"window_size"` // equity returns kept
	MinSamples int           `json:"min_samples" yaml:"min_samples"` // returns needed before VaR is reported
}

// DefaultMonitorConfig returns default risk monitor configuration
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:   30 * time.Second,
		Method:     MethodHistorical,
		Confidence: 0.99,
		WindowSize: 500,
		MinSamples: 20,
	}
}

// Report is the immutable output of one monitor run
type Report struct {
	Timestamp       time.Time     `json:"timestamp"`
	SnapshotVersion uint64        `json:"snapshot_version"`
	Equity          float64       `json:"equity"`
	VaR             *VaRResult    `json:"var,omitempty"` // nil until enough samples exist
	VaRAmount       float64       `json:"var_amount"`
	Stress          StressSummary `json:"stress"`
	Exposures       Exposures     `json:"exposures"`
}

// Monitor runs VaR and stress tests on its own cadence and publishes the
// latest Report for the next trigger cycle. It never sits on the order path.
type Monitor struct {
	logger     *logger.Logger
	config     MonitorConfig
	snapshots  SnapshotReader
	estimator  *Estimator
	tester     *StressTester
	aggregator *Aggregator
	sink       audit.Sink

	mu          sync.Mutex
	returns     []float64
	lastEquity  float64
	lastVersion uint64

	latest atomic.Pointer[Report]
}

// NewMonitor creates a new risk monitor
func NewMonitor(log *logger.Logger, cfg MonitorConfig, snapshots SnapshotReader, estimator *Estimator, tester *StressTester, sink audit.Sink) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Method == "" {
		cfg.Method = def.Method
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		cfg.Confidence = def.Confidence
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 1
	}
	return &Monitor{
		logger:     log,
		config:     cfg,
		snapshots:  snapshots,
		estimator:  estimator,
		tester:     tester,
		aggregator: NewAggregator(),
		sink:       sink,
		returns:    make([]float64, 0, cfg.WindowSize),
	}
}

// Latest returns the most recent report, or nil before the first run
func (m *Monitor) Latest() *Report {
	return m.latest.Load()
}

// SeedReturns preloads the equity return window, e.g. from a history file
func (m *Monitor) SeedReturns(returns []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returns = append(m.returns, finite(returns)...)
	m.trim()
}

// Run computes a report every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.Info("Risk monitor started (interval %s, method %s, confidence %.3f)",
		m.config.Interval, m.config.Method, m.config.Confidence)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Risk monitor stopped")
			return
		case <-ticker.C:
			m.RunOnce(time.Now())
		}
	}
}

// RunOnce computes and publishes one report from the latest snapshot.
// It returns nil when no snapshot has been published yet.
func (m *Monitor) RunOnce(now time.Time) *Report {
	snap := m.snapshots.Latest()
	if snap == nil {
		return nil
	}

	returns := m.observe(snap)
	exposures := m.aggregator.Aggregate(snap.Account, snap.Quotes)
	equity := snap.Account.Equity

	report := &Report{
		Timestamp:       now,
		SnapshotVersion: snap.Version,
		Equity:          equity,
		Exposures:       exposures,
	}

	if len(returns) >= m.config.MinSamples {
		result, err := m.estimator.Estimate(returns, m.config.Method, m.config.Confidence)
		if err != nil {
			m.logger.LogWarning("Risk Monitor", "VaR estimation failed: %v", err)
			monitoring.RecordError("var")
		} else {
			report.VaR = &result
			if equity > 0 {
				report.VaRAmount = result.ValueAtRisk * equity
			}
			monitoring.UpdateVaR(string(result.Method), result.ValueAtRisk)
			m.emit(audit.KindVaRResult, now, result)
		}
	}

	if m.tester != nil {
		summary, err := m.tester.RunAllScenarios(exposures, equity, snap.Account.UsedMargin)
		if err != nil {
			m.logger.LogWarning("Risk Monitor", "stress run failed: %v", err)
		} else {
			report.Stress = summary
			monitoring.UpdateStressWorstPnL(summary.WorstPnL)
			for _, r := range summary.Results {
				m.emit(audit.KindStressResult, now, r)
			}
			if summary.Failed > 0 {
				m.logger.Zap().Warn("stress scenarios failed",
					zap.Int("failed", summary.Failed),
					zap.Int("total", summary.TotalScenarios),
					zap.String("worst", summary.WorstScenario),
					zap.Float64("worst_pnl", summary.WorstPnL))
			}
		}
	}

	m.latest.Store(report)
	return report
}

// observe appends the equity return since the previous snapshot and returns a copy of the window
func (m *Monitor) observe(snap *types.Snapshot) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	equity := snap.Account.Equity
	fresh := snap.Version != m.lastVersion && snap.FeedError == ""
	if fresh && m.lastEquity > 0 && equity > 0 {
		m.returns = append(m.returns, (equity-m.lastEquity)/m.lastEquity)
		m.trim()
	}
	if fresh {
		m.lastVersion = snap.Version
		if equity > 0 {
			m.lastEquity = equity
		}
	}
	return append([]float64(nil), m.returns...)
}

func (m *Monitor) trim() {
	if len(m.returns) > m.config.WindowSize {
		m.returns = append(m.returns[:0], m.returns[len(m.returns)-m.config.WindowSize:]...)
	}
}

func (m *Monitor) emit(kind audit.Kind, ts time.Time, payload interface{}) {
	if err := audit.Emit(m.sink, kind, ts, payload); err != nil {
		m.logger.LogError("Risk Monitor audit", err)
		monitoring.RecordError("audit")
	}
}
