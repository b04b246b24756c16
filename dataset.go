package deepargo

import (
	"errors"
	"fmt"
)

// DataSetConfig carries the windowing knobs of a TimeSeriesDataSet.
type DataSetConfig struct {
	MaxEncoderLength    int  // history steps fed to the network
	MaxPredictionLength int  // future steps the network forecasts
	AddTargetScales     bool // append the series center/scale as inputs
	Randomize           bool // shuffle window order in training loaders
}

// Validate verifies the config is usable.
func (c DataSetConfig) Validate() error {
	if c.MaxEncoderLength <= 0 {
		return fmt.Errorf("encoder length must be > 0 (got %d)", c.MaxEncoderLength)
	}
	if c.MaxPredictionLength <= 0 {
		return fmt.Errorf("prediction length must be > 0 (got %d)", c.MaxPredictionLength)
	}
	return nil
}

type window struct {
	series int // index into the panel
	start  int // first encoder step
}

// TimeSeriesDataSet turns a panel into fixed-length training windows: for
// every series, every position where MaxEncoderLength history steps and
// MaxPredictionLength future steps fit becomes one sample. Targets are scaled
// per series by a GroupNormalizer and the static category is label-encoded.
type TimeSeriesDataSet struct {
	cfg        DataSetConfig
	panel      Panel
	normalizer *GroupNormalizer
	encoder    *LabelEncoder
	windows    []window
}

// NewTimeSeriesDataSet builds a dataset over panel. A nil staticEncoder is
// fitted on the panel's own static categories.
func NewTimeSeriesDataSet(panel Panel, cfg DataSetConfig, staticEncoder *LabelEncoder) (*TimeSeriesDataSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(panel) == 0 {
		return nil, errors.New("empty panel")
	}
	if staticEncoder == nil {
		statics := make([]string, len(panel))
		for i, s := range panel {
			statics[i] = s.Static
		}
		staticEncoder = NewLabelEncoder().Fit(statics)
	}
	ds := &TimeSeriesDataSet{
		cfg:        cfg,
		panel:      panel,
		normalizer: NewGroupNormalizer().Fit(panel),
		encoder:    staticEncoder,
	}
	total := cfg.MaxEncoderLength + cfg.MaxPredictionLength
	for i, s := range panel {
		for start := 0; start+total <= s.Len(); start++ {
			ds.windows = append(ds.windows, window{series: i, start: start})
		}
	}
	if len(ds.windows) == 0 {
		return nil, fmt.Errorf("no series long enough for %d encoder + %d prediction steps", cfg.MaxEncoderLength, cfg.MaxPredictionLength)
	}
	return ds, nil
}

// FromDataset builds a dataset over new data reusing the configuration and
// static encoder of an existing one. With stopRandomization the resulting
// loaders iterate windows in order, which is what a validation split wants.
func FromDataset(train *TimeSeriesDataSet, panel Panel, stopRandomization bool) (*TimeSeriesDataSet, error) {
	cfg := train.cfg
	if stopRandomization {
		cfg.Randomize = false
	}
	return NewTimeSeriesDataSet(panel, cfg, train.encoder)
}

// NumWindows returns the number of samples in the dataset.
func (ds *TimeSeriesDataSet) NumWindows() int {
	return len(ds.windows)
}

// WindowLength is the total number of steps per sample.
func (ds *TimeSeriesDataSet) WindowLength() int {
	return ds.cfg.MaxEncoderLength + ds.cfg.MaxPredictionLength
}

// NumFeatures is the numeric input width per step: lagged target, relative
// time index and, when configured, the two target-scale features.
func (ds *TimeSeriesDataSet) NumFeatures() int {
	if ds.cfg.AddTargetScales {
		return 4
	}
	return 2
}

// StaticCardinality is the embedding table size for the static category.
func (ds *TimeSeriesDataSet) StaticCardinality() int {
	return ds.encoder.Cardinality()
}

// Config returns the dataset configuration.
func (ds *TimeSeriesDataSet) Config() DataSetConfig {
	return ds.cfg
}

// Normalizer returns the fitted per-series target normalizer.
func (ds *TimeSeriesDataSet) Normalizer() *GroupNormalizer {
	return ds.normalizer
}

// fillWindow materializes window w into the batch slot at position slot.
// inputs is (B, T, F) batch-major, targets (B, T) scaled, rawFuture
// (B, predictionLength) unscaled decoder actuals.
func (ds *TimeSeriesDataSet) fillWindow(w window, slot int, batch *Batch) {
	s := ds.panel[w.series]
	center, scale, _ := ds.normalizer.Params(s.ID)
	T := ds.WindowLength()
	F := ds.NumFeatures()
	n := float64(s.Len())
	for t := 0; t < T; t++ {
		idx := w.start + t
		lagIdx := idx - 1
		if lagIdx < 0 {
			lagIdx = 0 // window at the very start of a series repeats its first value
		}
		row := batch.Inputs[(slot*T+t)*F:]
		row[0] = float32(ds.normalizer.Normalize(s.ID, s.Values[lagIdx]))
		row[1] = float32(float64(idx) / n)
		if ds.cfg.AddTargetScales {
			row[2] = float32(center)
			row[3] = float32(scale)
		}
		batch.Targets[slot*T+t] = float32(ds.normalizer.Normalize(s.ID, s.Values[idx]))
	}
	enc := ds.cfg.MaxEncoderLength
	for h := 0; h < ds.cfg.MaxPredictionLength; h++ {
		batch.RawFuture[slot*ds.cfg.MaxPredictionLength+h] = s.Values[w.start+enc+h]
	}
	batch.StaticIDs[slot] = ds.encoder.Encode(s.Static)
	batch.Centers[slot] = float32(center)
	batch.Scales[slot] = float32(scale)
	batch.SeriesIDs[slot] = s.ID
}
