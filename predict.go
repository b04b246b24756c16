package deepargo

import (
	"errors"
	"fmt"
)

// Prediction holds Monte Carlo forecasts for one batch, in observation space.
type Prediction struct {
	Mean    [][]float64   // (B, predictionLength) per-step sample means
	Samples [][][]float64 // (B, nSamples, predictionLength)
}

// Quantile returns the per-step sample quantile q for every window.
func (p *Prediction) Quantile(q float64) [][]float64 {
	out := make([][]float64, len(p.Samples))
	for b, samples := range p.Samples {
		horizon := len(samples[0])
		row := make([]float64, horizon)
		buf := make([]float64, len(samples))
		for h := 0; h < horizon; h++ {
			for s := range samples {
				buf[s] = samples[s][h]
			}
			row[h] = Quantile(buf, q)
		}
		out[b] = row
	}
	return out
}

// predictState is the rolling LSTM state of an autoregressive decode.
type predictState struct {
	h, c [][]float32 // per layer, (B, H)
}

func (model *DeepAR) newPredictState(B int) *predictState {
	H, L := model.Config.HiddenSize, model.Config.RNNLayers
	st := &predictState{
		h: make([][]float32, L),
		c: make([][]float32, L),
	}
	for l := 0; l < L; l++ {
		st.h[l] = make([]float32, B*H)
		st.c[l] = make([]float32, B*H)
	}
	return st
}

func (st *predictState) clone() *predictState {
	out := &predictState{
		h: make([][]float32, len(st.h)),
		c: make([][]float32, len(st.c)),
	}
	for l := range st.h {
		out.h[l] = append([]float32(nil), st.h[l]...)
		out.c[l] = append([]float32(nil), st.c[l]...)
	}
	return out
}

// step advances the state by one time step. x is the assembled (B, Fin)
// input; mu and sigma receive the (B) head outputs. Dropout is inactive
// outside training, so hidden states feed forward unmasked.
func (model *DeepAR) step(st *predictState, x, gates, mu, sigma []float32, B int) {
	cfg := model.Config
	H, L := cfg.HiddenSize, cfg.RNNLayers
	for l := 0; l < L; l++ {
		wx, wh, bias, inWidth := model.layerParams(&model.Params, l)
		in := x
		if l > 0 {
			in = st.h[l-1]
		}
		lstmCellForward(st.h[l], st.c[l], gates, in, st.h[l], st.c[l], wx, wh, bias, B, inWidth, H)
	}
	topH := st.h[L-1]
	for b := 0; b < B; b++ {
		m := model.Params.MuB.data[0]
		s := model.Params.SigmaB.data[0]
		hB := topH[b*H:]
		for k := 0; k < H; k++ {
			m += model.Params.MuW.data[k] * hB[k]
			s += model.Params.SigmaW.data[k] * hB[k]
		}
		mu[b] = m
		sigma[b] = Softplus(s) + sigmaEps
	}
}

// assembleStepInput builds the (B, Fin) input for step t from the batch,
// optionally overriding the lag feature with the previous decoded values.
func (model *DeepAR) assembleStepInput(x []float32, batch *Batch, t int, lagOverride []float32) {
	cfg := model.Config
	B, T, F, E := batch.B, batch.T, batch.F, cfg.EmbeddingSize
	fin := cfg.inputWidth()
	for b := 0; b < B; b++ {
		row := x[b*fin:]
		featRow := batch.Inputs[(b*T+t)*F:]
		for i := 0; i < F; i++ {
			row[i] = featRow[i]
		}
		if lagOverride != nil {
			row[0] = lagOverride[b]
		}
		embRow := model.Params.StaticEmbed.data[int(batch.StaticIDs[b])*E:]
		for j := 0; j < E; j++ {
			row[F+j] = embRow[j]
		}
	}
}

// Predict runs the encoder over the observed window and decodes the forecast
// horizon autoregressively, drawing nSamples Monte Carlo trajectories per
// window. Each decoded value is fed back as the next step's lag input.
func (model *DeepAR) Predict(batch *Batch, nSamples int) (*Prediction, error) {
	cfg := model.Config
	if batch.T != cfg.windowLength() {
		return nil, fmt.Errorf("batch window length %d does not match model %d", batch.T, cfg.windowLength())
	}
	if nSamples <= 0 {
		return nil, errors.New("need at least one sample")
	}
	B := batch.B
	H := cfg.HiddenSize
	enc, horizon := cfg.EncoderLength, cfg.PredictionLength
	fin := cfg.inputWidth()

	x := make([]float32, B*fin)
	gates := make([]float32, B*4*H)
	mu := make([]float32, B)
	sigma := make([]float32, B)

	st := model.newPredictState(B)
	for t := 0; t < enc; t++ {
		model.assembleStepInput(x, batch, t, nil)
		model.step(st, x, gates, mu, sigma, B)
	}

	pred := &Prediction{
		Mean:    make([][]float64, B),
		Samples: make([][][]float64, B),
	}
	for b := 0; b < B; b++ {
		pred.Mean[b] = make([]float64, horizon)
		pred.Samples[b] = make([][]float64, nSamples)
		for s := 0; s < nSamples; s++ {
			pred.Samples[b][s] = make([]float64, horizon)
		}
	}

	lag := make([]float32, B)
	for s := 0; s < nSamples; s++ {
		dec := st.clone()
		var override []float32
		for h := 0; h < horizon; h++ {
			t := enc + h
			// the first decoder step still sees the last observed lag
			model.assembleStepInput(x, batch, t, override)
			model.step(dec, x, gates, mu, sigma, B)
			for b := 0; b < B; b++ {
				z := sampleGaussian(model.Rand, mu[b], sigma[b])
				lag[b] = z
				raw := float64(z)*float64(batch.Scales[b]) + float64(batch.Centers[b])
				pred.Samples[b][s][h] = raw
				pred.Mean[b][h] += raw / float64(nSamples)
			}
			override = lag
		}
	}
	return pred, nil
}
