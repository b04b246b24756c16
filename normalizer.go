package deepargo

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// GroupNormalizer rescales targets per series, the way grouped target
// normalization works in windowed forecasting: each series gets its own
// center (mean) and scale (standard deviation, floored to keep division
// safe).
type GroupNormalizer struct {
	ScaleFloor float64
	params     map[string][2]float64
}

// NewGroupNormalizer returns an unfitted normalizer with the default scale
// floor.
func NewGroupNormalizer() *GroupNormalizer {
	return &GroupNormalizer{ScaleFloor: 1e-3}
}

// Fit computes center and scale for every series in the panel. Returns the
// normalizer for chaining.
func (g *GroupNormalizer) Fit(panel Panel) *GroupNormalizer {
	g.params = make(map[string][2]float64, len(panel))
	for _, s := range panel {
		mean, std := stat.MeanStdDev(s.Values, nil)
		if !(std > g.ScaleFloor) {
			std = g.ScaleFloor
		}
		g.params[s.ID] = [2]float64{mean, std}
	}
	return g
}

// Params returns the fitted center and scale for a series.
func (g *GroupNormalizer) Params(id string) (center, scale float64, err error) {
	p, ok := g.params[id]
	if !ok {
		return 0, 0, fmt.Errorf("normalizer not fitted for series %q", id)
	}
	return p[0], p[1], nil
}

// Normalize maps a raw observation into the model's scaled space.
func (g *GroupNormalizer) Normalize(id string, v float64) float64 {
	p := g.params[id]
	if p[1] == 0 {
		return v
	}
	return (v - p[0]) / p[1]
}

// Denormalize maps a scaled value back to the observation space.
func (g *GroupNormalizer) Denormalize(id string, v float64) float64 {
	p := g.params[id]
	if p[1] == 0 {
		return v
	}
	return v*p[1] + p[0]
}
