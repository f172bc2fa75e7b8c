package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/futures-guardian/internal/audit"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

type fakeReader struct {
	snap *types.Snapshot
}

func (f *fakeReader) Latest() *types.Snapshot { return f.snap }

func (f *fakeReader) publish(version uint64, equity float64, feedErr string) {
	f.snap = &types.Snapshot{
		Version:   version,
		Timestamp: time.Now(),
		FeedError: feedErr,
		Account: types.Account{
			Equity:     equity,
			UsedMargin: equity * 0.2,
			Positions:  []types.Position{{Symbol: "BTCUSDT", Product: "BTC", Quantity: 1, Notional: equity}},
		},
	}
}

func TestMonitor_RunOnce(t *testing.T) {
	reader := &fakeReader{}
	sink := audit.NewMemorySink(0)
	tester, err := NewStressTester(DefaultScenarios())
	require.NoError(t, err)

	cfg := MonitorConfig{Method: MethodHistorical, Confidence: 0.95, WindowSize: 10, MinSamples: 2}
	m := NewMonitor(logger.NewNop(), cfg, reader, NewEstimator(1000, 1, 1), tester, sink)

	assert.Nil(t, m.RunOnce(time.Now()), "no snapshot yet")

	reader.publish(1, 100000, "")
	first := m.RunOnce(time.Now())
	require.NotNil(t, first)
	assert.Nil(t, first.VaR, "not enough samples")
	assert.Equal(t, len(DefaultScenarios()), first.Stress.TotalScenarios)

	reader.publish(2, 98000, "")
	m.RunOnce(time.Now())
	reader.publish(3, 99000, "")
	report := m.RunOnce(time.Now())

	require.NotNil(t, report.VaR)
	assert.Equal(t, 2, report.VaR.SampleSize)
	assert.InDelta(t, 0.02, report.VaR.ValueAtRisk, 1e-12)
	assert.InDelta(t, 0.02*99000, report.VaRAmount, 1e-6)
	assert.Equal(t, uint64(3), report.SnapshotVersion)
	assert.Same(t, report, m.Latest())

	assert.Len(t, sink.Records(audit.KindVaRResult), 1)
	assert.Len(t, sink.Records(audit.KindStressResult), 3*len(DefaultScenarios()))
}

func TestMonitor_SkipsFailedAndRepeatedSnapshots(t *testing.T) {
	reader := &fakeReader{}
	m := NewMonitor(logger.NewNop(), MonitorConfig{MinSamples: 1}, reader, NewEstimator(1000, 1, 1), nil, nil)

	reader.publish(1, 100000, "")
	m.RunOnce(time.Now())
	m.RunOnce(time.Now()) // same version
	reader.publish(2, 90000, "timeout")
	m.RunOnce(time.Now())

	assert.Nil(t, m.Latest().VaR)

	reader.publish(3, 95000, "")
	report := m.RunOnce(time.Now())
	require.NotNil(t, report.VaR)
	assert.Equal(t, 1, report.VaR.SampleSize)
	assert.InDelta(t, 0.05, report.VaR.ValueAtRisk, 1e-12)
}

func TestMonitor_SeedReturnsWindow(t *testing.T) {
	reader := &fakeReader{}
	m := NewMonitor(logger.NewNop(), MonitorConfig{WindowSize: 3, MinSamples: 3, Confidence: 0.95}, reader, NewEstimator(1000, 1, 1), nil, nil)
	m.SeedReturns([]float64{-0.5, 0.01, -0.02, 0.03})

	reader.publish(1, 1000, "")
	report := m.RunOnce(time.Now())
	require.NotNil(t, report.VaR)
	assert.Equal(t, 3, report.VaR.SampleSize)
	assert.InDelta(t, 0.02, report.VaR.ValueAtRisk, 1e-12, "oldest seed dropped")
}
