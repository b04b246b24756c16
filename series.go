package deepargo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Series is a single univariate time series within a panel. The time index
// is implicit: Values[t] is the observation at step t.
type Series struct {
	ID     string
	Static string
	Values []float64
}

// Len returns the number of observations in the series.
func (s *Series) Len() int {
	return len(s.Values)
}

// Panel is a collection of series trained and forecast together.
type Panel []*Series

// IDs returns the series identifiers in panel order.
func (p Panel) IDs() []string {
	ids := make([]string, len(p))
	for i, s := range p {
		ids[i] = s.ID
	}
	return ids
}

// ByID returns the series with the given identifier.
func (p Panel) ByID(id string) (*Series, error) {
	for _, s := range p {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("series %q not in panel", id)
}

// SampleIDs draws n distinct series identifiers without replacement.
func (p Panel) SampleIDs(n int, rng *rand.Rand) []string {
	if n > len(p) {
		n = len(p)
	}
	perm := rng.Perm(len(p))
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = p[perm[i]].ID
	}
	return ids
}

// Split partitions the panel into the series whose IDs are not in holdout and
// those that are.
func (p Panel) Split(holdout []string) (train, val Panel) {
	held := make(map[string]bool, len(holdout))
	for _, id := range holdout {
		held[id] = true
	}
	for _, s := range p {
		if held[s.ID] {
			val = append(val, s)
		} else {
			train = append(train, s)
		}
	}
	return train, val
}

// ARDataOptions configures GenerateARData.
type ARDataOptions struct {
	Seasonality float64 // period of the seasonal component, in steps
	Timesteps   int     // observations per series
	NSeries     int     // number of series in the panel
	Trend       float64 // total drift over the full series length
	Noise       float64 // standard deviation of the AR(1) innovations
	Seed        int64
}

// GenerateARData builds a synthetic panel of autoregressive series: a random
// level, a linear trend, a sinusoid with the configured period and AR(1)
// noise. Every series carries the static category "2". The output is
// deterministic for a fixed seed.
func GenerateARData(opts ARDataOptions) (Panel, error) {
	if opts.Timesteps <= 0 || opts.NSeries <= 0 {
		return nil, errors.New("timesteps and number of series must be > 0")
	}
	if opts.Seasonality <= 0 {
		opts.Seasonality = 10
	}
	if opts.Noise == 0 {
		opts.Noise = 0.3
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	panel := make(Panel, 0, opts.NSeries)
	for i := 0; i < opts.NSeries; i++ {
		level := 10 * rng.Float64()
		drift := opts.Trend * (rng.Float64() - 0.2) / float64(opts.Timesteps)
		amplitude := 1 + 3*rng.Float64()
		phase := 2 * math.Pi * rng.Float64()
		values := make([]float64, opts.Timesteps)
		var ar float64
		for t := range values {
			ar = 0.7*ar + rng.NormFloat64()*opts.Noise
			season := amplitude * math.Sin(2*math.Pi*float64(t)/opts.Seasonality+phase)
			values[t] = level + drift*float64(t) + season + ar
		}
		panel = append(panel, &Series{
			ID:     fmt.Sprintf("%d", i),
			Static: "2",
			Values: values,
		})
	}
	return panel, nil
}
