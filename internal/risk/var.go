package risk

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	guarderrors "github.com/ducminhle1904/futures-guardian/internal/errors"
)

// VaRMethod selects how Value-at-Risk is estimated
type VaRMethod string

const (
	MethodHistorical VaRMethod = "historical"
	MethodParametric VaRMethod = "parametric"
	MethodMonteCarlo VaRMethod = "monte_carlo"
)

// ParseVaRMethod validates a method name
func ParseVaRMethod(s string) (VaRMethod, error) {
	switch m := VaRMethod(s); m {
	case MethodHistorical, MethodParametric, MethodMonteCarlo:
		return m, nil
	}
	return "", fmt.Errorf("unknown VaR method %q", s)
}

// VaRResult is the outcome of one estimation. Values are positive loss magnitudes
// expressed in the same unit as the return series.
type VaRResult struct {
	ValueAtRisk       float64   `json:"value_at_risk"`
	ConfidenceLevel   float64   `json:"confidence_level"`
	Method            VaRMethod `json:"method"`
	ExpectedShortfall float64   `json:"expected_shortfall"`
	SampleSize        int       `json:"sample_size"`
}

// Estimator computes VaR and Expected Shortfall
type Estimator struct {
	Simulations int
	Horizon     float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEstimator creates an estimator. The seed makes Monte Carlo runs reproducible.
func NewEstimator(simulations int, horizon float64, seed uint64) *Estimator {
	if simulations <= 0 {
		simulations = 10000
	}
	if horizon <= 0 {
		horizon = 1
	}
	return &Estimator{
		Simulations: simulations,
		Horizon:     horizon,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// HistoricalVaR returns the empirical loss quantile at 1-confidence.
// A single-point series degrades to that point.
func (e *Estimator) HistoricalVaR(returns []float64, confidence float64) (float64, error) {
	if err := checkConfidence(confidence); err != nil {
		return 0, err
	}
	clean := finite(returns)
	if len(clean) == 0 {
		return 0, guarderrors.NewComputationError("risk", "historical_var", "empty return series")
	}
	sort.Float64s(clean)
	return lossAt(clean, confidence), nil
}

// ParametricVaR assumes normally distributed returns
func (e *Estimator) ParametricVaR(mean, stddev, confidence float64) (float64, error) {
	if err := checkConfidence(confidence); err != nil {
		return 0, err
	}
	if stddev < 0 || isBad(stddev) || isBad(mean) {
		return 0, guarderrors.NewComputationError("risk", "parametric_var",
			fmt.Sprintf("invalid distribution mean=%v stddev=%v", mean, stddev))
	}
	z := InverseNormalCDF(1 - confidence)
	return math.Max(0, -(mean + z*stddev)), nil
}

// MonteCarloVaR simulates normally distributed returns over horizon and applies
// the historical percentile to the simulated distribution.
func (e *Estimator) MonteCarloVaR(mean, stddev, confidence float64, simulations int, horizon float64) (float64, error) {
	sims, err := e.simulate(mean, stddev, confidence, simulations, horizon)
	if err != nil {
		return 0, err
	}
	return lossAt(sims, confidence), nil
}

// ExpectedShortfall averages the losses at or beyond var. Returns zero when the tail is empty.
func (e *Estimator) ExpectedShortfall(returns []float64, valueAtRisk, confidence float64) (float64, error) {
	if err := checkConfidence(confidence); err != nil {
		return 0, err
	}
	var sum float64
	var n int
	for _, r := range returns {
		if isBad(r) {
			continue
		}
		if loss := -r; loss >= valueAtRisk {
			sum += loss
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return math.Max(0, sum/float64(n)), nil
}

// Estimate runs the requested method on a return series and attaches Expected Shortfall.
// Parametric and Monte Carlo use the sample mean and standard deviation of the series.
func (e *Estimator) Estimate(returns []float64, method VaRMethod, confidence float64) (VaRResult, error) {
	clean := finite(returns)
	result := VaRResult{Method: method, ConfidenceLevel: confidence, SampleSize: len(clean)}
	if len(clean) == 0 {
		return result, guarderrors.NewComputationError("risk", "estimate", "empty return series")
	}

	var (
		v    float64
		tail = clean
		err  error
	)
	switch method {
	case MethodHistorical:
		v, err = e.HistoricalVaR(clean, confidence)
	case MethodParametric:
		mean, std := MeanStdDev(clean)
		v, err = e.ParametricVaR(mean, std, confidence)
	case MethodMonteCarlo:
		mean, std := MeanStdDev(clean)
		tail, err = e.simulate(mean, std, confidence, e.Simulations, e.Horizon)
		if err == nil {
			v = lossAt(tail, confidence)
		}
	default:
		err = fmt.Errorf("unknown VaR method %q", method)
	}
	if err != nil {
		return result, err
	}

	es, err := e.ExpectedShortfall(tail, v, confidence)
	if err != nil {
		return result, err
	}
	result.ValueAtRisk = v
	result.ExpectedShortfall = math.Max(es, v)
	return result, nil
}

// simulate returns sorted simulated horizon returns
func (e *Estimator) simulate(mean, stddev, confidence float64, simulations int, horizon float64) ([]float64, error) {
	if err := checkConfidence(confidence); err != nil {
		return nil, err
	}
	if simulations <= 0 {
		return nil, guarderrors.NewComputationError("risk", "monte_carlo_var", "simulation count must be positive")
	}
	if horizon <= 0 || isBad(horizon) {
		return nil, guarderrors.NewComputationError("risk", "monte_carlo_var", "horizon must be positive")
	}
	if stddev < 0 || isBad(stddev) || isBad(mean) {
		return nil, guarderrors.NewComputationError("risk", "monte_carlo_var",
			fmt.Sprintf("invalid distribution mean=%v stddev=%v", mean, stddev))
	}

	drift := mean * horizon
	scale := stddev * math.Sqrt(horizon)

	e.mu.Lock()
	sims := make([]float64, simulations)
	for i := 0; i < simulations; i += 2 {
		z0, z1 := e.boxMuller()
		sims[i] = drift + scale*z0
		if i+1 < simulations {
			sims[i+1] = drift + scale*z1
		}
	}
	e.mu.Unlock()

	sort.Float64s(sims)
	return sims, nil
}

// boxMuller draws two independent standard normal variates. Caller holds e.mu.
func (e *Estimator) boxMuller() (float64, float64) {
	u1 := 1 - e.rng.Float64() // (0, 1]
	u2 := e.rng.Float64()
	r := math.Sqrt(-2 * math.Log(u1))
	theta := 2 * math.Pi * u2
	return r * math.Cos(theta), r * math.Sin(theta)
}

// lossAt picks the (1-confidence) quantile from a sorted series and reports it as a loss
func lossAt(sorted []float64, confidence float64) float64 {
	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return math.Max(0, -sorted[idx])
}

func checkConfidence(c float64) error {
	if !(c > 0 && c < 1) {
		return guarderrors.NewComputationError("risk", "var", fmt.Sprintf("confidence %v outside (0, 1)", c))
	}
	return nil
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !isBad(v) {
			out = append(out, v)
		}
	}
	return out
}

// MeanStdDev returns the mean and sample standard deviation; stddev is zero below two points
func MeanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}

// Coefficients for Acklam's rational approximation of the inverse normal CDF
var (
	acklamA = [6]float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	acklamB = [5]float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	acklamC = [6]float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	acklamD = [4]float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}
)

// InverseNormalCDF returns the standard normal quantile for p in (0, 1).
// Relative error is below 1.15e-9 across the whole domain.
func InverseNormalCDF(p float64) float64 {
	switch {
	case p <= 0:
		return math.Inf(-1)
	case p >= 1:
		return math.Inf(1)
	}

	const pLow = 0.02425
	const pHigh = 1 - pLow
	a, b, c, d := acklamA, acklamB, acklamC, acklamD

	switch {
	case p < pLow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p <= pHigh:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	default:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	}
}
