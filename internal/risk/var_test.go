package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
)

func linearReturns(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[n-1-i] = float64(i)/1000 - 0.05 // unsorted on purpose
	}
	return out
}

func TestHistoricalVaR(t *testing.T) {
	e := NewEstimator(1000, 1, 1)
	returns := linearReturns(100)

	v, err := e.HistoricalVaR(returns, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 0.045, v, 1e-12)

	v, err = e.HistoricalVaR(returns, 0.99)
	require.NoError(t, err)
	assert.InDelta(t, 0.049, v, 1e-12)
}

func TestHistoricalVaR_AllGainsIsZero(t *testing.T) {
	e := NewEstimator(1000, 1, 1)
	v, err := e.HistoricalVaR([]float64{0.01, 0.02, 0.03}, 0.95)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestSinglePointSeries(t *testing.T) {
	e := NewEstimator(2000, 1, 7)
	for _, r := range []float64{0.02, -0.03, 0} {
		v, err := e.HistoricalVaR([]float64{r}, 0.99)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		assert.GreaterOrEqual(t, v, 0.0)
		assert.InDelta(t, math.Max(0, -r), v, 1e-12)

		for _, method := range []VaRMethod{MethodHistorical, MethodParametric, MethodMonteCarlo} {
			res, err := e.Estimate([]float64{r}, method, 0.99)
			require.NoError(t, err, method)
			assert.False(t, math.IsNaN(res.ValueAtRisk), method)
			assert.GreaterOrEqual(t, res.ValueAtRisk, 0.0, method)
			assert.GreaterOrEqual(t, res.ExpectedShortfall, res.ValueAtRisk, method)
			assert.Equal(t, 1, res.SampleSize)
		}
	}
}

func TestParametricVaR(t *testing.T) {
	e := NewEstimator(1000, 1, 1)
	v, err := e.ParametricVaR(0, 0.02, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 0.0328971, v, 1e-6)

	// a strongly positive mean cannot produce a negative VaR
	v, err = e.ParametricVaR(0.5, 0.01, 0.95)
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = e.ParametricVaR(0, -1, 0.95)
	assert.Error(t, err)
}

func TestInverseNormalCDF(t *testing.T) {
	tests := []struct {
		p, want float64
	}{
		{0.5, 0},
		{0.975, 1.959963985},
		{0.025, -1.959963985},
		{0.01, -2.326347874},
		{0.001, -3.090232306},
		{0.999, 3.090232306},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, InverseNormalCDF(tt.p), 1e-6, "p=%v", tt.p)
	}
	assert.True(t, math.IsInf(InverseNormalCDF(0), -1))
	assert.True(t, math.IsInf(InverseNormalCDF(1), 1))
}

func TestMonteCarloVaR(t *testing.T) {
	e := NewEstimator(100000, 1, 42)

	v, err := e.MonteCarloVaR(0, 0.02, 0.95, 100000, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.0329, v, 0.002)

	v4, err := e.MonteCarloVaR(0, 0.02, 0.95, 100000, 4)
	require.NoError(t, err)
	assert.InDelta(t, 0.0658, v4, 0.004)

	_, err = e.MonteCarloVaR(0, 0.02, 0.95, 0, 1)
	assert.Equal(t, guarderrors.ErrorCategoryComputation, guarderrors.CategoryOf(err))
	_, err = e.MonteCarloVaR(0, 0.02, 0.95, 100, 0)
	assert.Error(t, err)
}

func TestMonteCarloVaR_Reproducible(t *testing.T) {
	a, err := NewEstimator(1000, 1, 9).MonteCarloVaR(0.001, 0.03, 0.99, 5000, 1)
	require.NoError(t, err)
	b, err := NewEstimator(1000, 1, 9).MonteCarloVaR(0.001, 0.03, 0.99, 5000, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExpectedShortfall(t *testing.T) {
	e := NewEstimator(1000, 1, 1)
	returns := []float64{-0.1, -0.05, 0, 0.05}

	es, err := e.ExpectedShortfall(returns, 0.05, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 0.075, es, 1e-12)

	es, err = e.ExpectedShortfall(returns, 1, 0.95)
	require.NoError(t, err)
	assert.Zero(t, es, "empty tail")
}

func TestEstimate_Errors(t *testing.T) {
	e := NewEstimator(1000, 1, 1)

	_, err := e.Estimate(nil, MethodHistorical, 0.95)
	assert.Equal(t, guarderrors.ErrorCategoryComputation, guarderrors.CategoryOf(err))

	_, err = e.Estimate([]float64{math.NaN()}, MethodHistorical, 0.95)
	assert.Error(t, err)

	_, err = e.Estimate([]float64{0.01}, MethodHistorical, 1)
	assert.Error(t, err)

	_, err = e.Estimate([]float64{0.01}, "garch", 0.95)
	assert.Error(t, err)
}

func TestEstimate_AllMethodsPositiveMagnitude(t *testing.T) {
	e := NewEstimator(20000, 1, 3)
	returns := linearReturns(250)
	for _, method := range []VaRMethod{MethodHistorical, MethodParametric, MethodMonteCarlo} {
		t.Run(string(method), func(t *testing.T) {
			res, err := e.Estimate(returns, method, 0.99)
			require.NoError(t, err)
			assert.Greater(t, res.ValueAtRisk, 0.0)
			assert.GreaterOrEqual(t, res.ExpectedShortfall, res.ValueAtRisk)
			assert.Equal(t, method, res.Method)
			assert.Equal(t, 250, res.SampleSize)
		})
	}
}

func TestParseVaRMethod(t *testing.T) {
	m, err := ParseVaRMethod("monte_carlo")
	require.NoError(t, err)
	assert.Equal(t, MethodMonteCarlo, m)
	_, err = ParseVaRMethod("delta_gamma")
	assert.Error(t, err)
}
