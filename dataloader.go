package deepargo

import (
	"errors"
	"math/rand"
)

// Batch is one dataloader step worth of windows, flattened into float32
// slabs the model kernels consume directly.
type Batch struct {
	B             int       // windows in the batch
	T             int       // steps per window
	F             int       // numeric features per step
	EncoderLength int       // steps before the forecast horizon
	Inputs        []float32 // (B, T, F)
	Targets       []float32 // (B, T) scaled targets
	StaticIDs     []int32   // (B) encoded static category
	Centers       []float32 // (B) per-series center
	Scales        []float32 // (B) per-series scale
	RawFuture     []float64 // (B, T-EncoderLength) unscaled decoder actuals
	SeriesIDs     []string  // (B)
}

// PredictionLength is the number of forecast steps per window.
func (b *Batch) PredictionLength() int {
	return b.T - b.EncoderLength
}

// DataLoader iterates a TimeSeriesDataSet in fixed-size batches. A training
// loader visits windows in a reshuffled order on every pass; an evaluation
// loader is sequential and deterministic. Like its file-backed cousin for
// token streams, it wraps around instead of returning short batches.
type DataLoader struct {
	NumBatches int

	ds        *TimeSeriesDataSet
	batchSize int
	train     bool
	order     []int
	pos       int
	rng       *rand.Rand
}

// NewDataLoader builds a loader over ds. Train loaders shuffle with the given
// seed.
func NewDataLoader(ds *TimeSeriesDataSet, batchSize int, train bool, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, errors.New("batch size must be > 0")
	}
	if ds.NumWindows() < batchSize {
		return nil, errors.New("dataset has fewer windows than one batch")
	}
	loader := &DataLoader{
		NumBatches: ds.NumWindows() / batchSize,
		ds:         ds,
		batchSize:  batchSize,
		train:      train && ds.cfg.Randomize,
		order:      make([]int, ds.NumWindows()),
		rng:        rand.New(rand.NewSource(seed)),
	}
	for i := range loader.order {
		loader.order[i] = i
	}
	if loader.train {
		loader.shuffle()
	}
	return loader, nil
}

func (loader *DataLoader) shuffle() {
	loader.rng.Shuffle(len(loader.order), func(i, j int) {
		loader.order[i], loader.order[j] = loader.order[j], loader.order[i]
	})
}

// Reset rewinds the loader to the first batch, reshuffling in train mode.
func (loader *DataLoader) Reset() {
	loader.pos = 0
	if loader.train {
		loader.shuffle()
	}
}

func (loader *DataLoader) newBatch() *Batch {
	T := loader.ds.WindowLength()
	F := loader.ds.NumFeatures()
	B := loader.batchSize
	enc := loader.ds.Config().MaxEncoderLength
	return &Batch{
		B:             B,
		T:             T,
		F:             F,
		EncoderLength: enc,
		Inputs:        make([]float32, B*T*F),
		Targets:       make([]float32, B*T),
		StaticIDs:     make([]int32, B),
		Centers:       make([]float32, B),
		Scales:        make([]float32, B),
		RawFuture:     make([]float64, B*(T-enc)),
		SeriesIDs:     make([]string, B),
	}
}

// NextBatch materializes the next batch, wrapping to the start of the data
// when fewer than batchSize windows remain.
func (loader *DataLoader) NextBatch() (*Batch, error) {
	if loader.pos+loader.batchSize > len(loader.order) {
		loader.Reset()
	}
	batch := loader.newBatch()
	for i := 0; i < loader.batchSize; i++ {
		w := loader.ds.windows[loader.order[loader.pos+i]]
		loader.ds.fillWindow(w, i, batch)
	}
	loader.pos += loader.batchSize
	return batch, nil
}
