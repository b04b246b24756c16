package deepargo

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MAE is the mean absolute error between two equal-length slices.
func MAE(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return math.NaN()
	}
	diff := make([]float64, len(actual))
	floats.SubTo(diff, actual, predicted)
	return floats.Norm(diff, 1) / float64(len(actual))
}

// RMSE is the root mean squared error.
func RMSE(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return math.NaN()
	}
	diff := make([]float64, len(actual))
	floats.SubTo(diff, actual, predicted)
	return floats.Norm(diff, 2) / math.Sqrt(float64(len(actual)))
}

// SMAPE is the symmetric mean absolute percentage error, in percent.
func SMAPE(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return math.NaN()
	}
	var sum float64
	for i := range actual {
		denom := (math.Abs(actual[i]) + math.Abs(predicted[i])) / 2
		if denom == 0 {
			continue
		}
		sum += math.Abs(actual[i]-predicted[i]) / denom
	}
	return 100 * sum / float64(len(actual))
}

// QuantileLoss is the pinball loss at quantile q.
func QuantileLoss(actual, predicted []float64, q float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return math.NaN()
	}
	var sum float64
	for i := range actual {
		diff := actual[i] - predicted[i]
		if diff >= 0 {
			sum += q * diff
		} else {
			sum += (q - 1) * diff
		}
	}
	return sum / float64(len(actual))
}

// Quantile returns the empirical quantile q of samples.
func Quantile(samples []float64, q float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

// Window accumulates timing stats across training steps.
type Window struct {
	samples  int
	data     time.Duration
	compute  time.Duration
	steps    int
	lastLoss float64
}

// Record adds one step's measurements to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lastLoss = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.WindowsPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	return snap
}

// Snapshot represents loggable training-throughput metrics.
type Snapshot struct {
	WindowsPerSec float64
	AvgDataMS     float64
	AvgComputeMS  float64
	LastLoss      float64
}
