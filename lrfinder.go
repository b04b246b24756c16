package deepargo

import (
	"errors"
	"math"
)

// LRFinderOptions configures the learning-rate range test.
type LRFinderOptions struct {
	MinLR         float64
	MaxLR         float64
	NumIters      int
	SmoothBeta    float64 // EMA factor for the loss curve
	DivergeFactor float64 // stop once smoothed loss exceeds this multiple of the best
}

// DefaultLRFinderOptions mirrors the usual range-test defaults: an
// exponential sweep from 1e-5 to 1e2.
func DefaultLRFinderOptions() LRFinderOptions {
	return LRFinderOptions{
		MinLR:         1e-5,
		MaxLR:         1e2,
		NumIters:      100,
		SmoothBeta:    0.98,
		DivergeFactor: 4,
	}
}

// LRFindResult is the recorded loss curve of a range test.
type LRFindResult struct {
	LRs    []float64
	Losses []float64 // smoothed
}

// Suggestion returns the learning rate at the steepest descent of the
// smoothed loss curve, skipping the noisy edges of the sweep.
func (r *LRFindResult) Suggestion() float64 {
	if len(r.LRs) < 4 {
		if len(r.LRs) == 0 {
			return 0
		}
		return r.LRs[len(r.LRs)/2]
	}
	skip := len(r.LRs) / 10
	bestIdx := skip
	bestSlope := math.Inf(1)
	for i := skip; i < len(r.Losses)-1; i++ {
		slope := r.Losses[i+1] - r.Losses[i]
		if slope < bestSlope {
			bestSlope = slope
			bestIdx = i
		}
	}
	return r.LRs[bestIdx]
}

// FindLR runs an exponential learning-rate sweep against the training loader
// and restores the model's parameters and optimizer state afterwards, so the
// sweep leaves no trace beyond the returned curve.
func (tr *Trainer) FindLR(model *DeepAR, loader *DataLoader, opts LRFinderOptions) (*LRFindResult, error) {
	if opts.NumIters < 2 {
		return nil, errors.New("lr finder needs at least 2 iterations")
	}
	if !(opts.MinLR > 0) || opts.MaxLR <= opts.MinLR {
		return nil, errors.New("lr finder needs 0 < min lr < max lr")
	}

	saved := append([]float32(nil), model.Params.Memory...)
	savedStep := tr.step
	defer func() {
		copy(model.Params.Memory, saved)
		model.MMemory = nil
		model.VMemory = nil
		tr.step = savedStep
	}()

	model.Training = true
	defer func() { model.Training = false }()

	result := &LRFindResult{}
	ratio := opts.MaxLR / opts.MinLR
	var avg, best float64
	for i := 0; i < opts.NumIters; i++ {
		lr := opts.MinLR * math.Pow(ratio, float64(i)/float64(opts.NumIters-1))
		batch, err := loader.NextBatch()
		if err != nil {
			return nil, err
		}
		if err := model.Forward(batch); err != nil {
			return nil, err
		}
		model.ZeroGradient()
		if err := model.Backward(); err != nil {
			return nil, err
		}
		model.ClipGradients(tr.GradientClipVal)
		model.Update(float32(lr), 0.9, 0.999, 1e-8, 0, i+1)

		loss := float64(model.MeanLoss)
		avg = opts.SmoothBeta*avg + (1-opts.SmoothBeta)*loss
		smoothed := avg / (1 - math.Pow(opts.SmoothBeta, float64(i+1)))
		if i == 0 || smoothed < best {
			best = smoothed
		}
		result.LRs = append(result.LRs, lr)
		result.Losses = append(result.Losses, smoothed)
		if i > 10 && smoothed > opts.DivergeFactor*best {
			break
		}
	}
	return result, nil
}
