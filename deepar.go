package deepargo

import (
	"errors"
	"fmt"
	"math/rand"
)

const sigmaEps = 1e-3

// Config holds the hyper-parameters of a DeepAR network.
type Config struct {
	EncoderLength     int     `json:"encoder_length"`
	PredictionLength  int     `json:"prediction_length"`
	HiddenSize        int     `json:"hidden_size"`
	RNNLayers         int     `json:"rnn_layers"`
	EmbeddingSize     int     `json:"embedding_size"`
	StaticCardinality int     `json:"static_cardinality"`
	NumFeatures       int     `json:"num_features"`
	Dropout           float32 `json:"dropout"`
	LearningRate      float32 `json:"learning_rate"`
	Seed              int64   `json:"seed"`
}

func (c Config) inputWidth() int {
	return c.NumFeatures + c.EmbeddingSize
}

func (c Config) windowLength() int {
	return c.EncoderLength + c.PredictionLength
}

// DeepAR is an autoregressive probabilistic forecaster: a stacked LSTM over
// lagged targets and covariates, with a Gaussian output head. Params holds
// the weights, Grads the gradients the next Update applies.
type DeepAR struct {
	Config Config
	Params ParameterTensors
	Grads  ParameterTensors
	// AdamW first and second moment estimates
	MMemory   []float32
	VMemory   []float32
	Acts      ActivationTensors
	GradsActs ActivationTensors
	B         int       // current batch size
	T         int       // current window length
	Targets   []float32 // scaled targets of the current batch
	StaticIDs []int32   // static ids of the current batch
	MeanLoss  float32   // mean decoder NLL after a forward pass
	Training  bool      // enables dropout
	Rand      *rand.Rand

	// BPTT scratch, sized (B, HiddenSize)
	zeroState []float32
	dcA, dcB  []float32
	discard   []float32
}

// NewDeepAR builds a model with freshly initialized weights.
func NewDeepAR(cfg Config) (*DeepAR, error) {
	if cfg.EncoderLength <= 0 || cfg.PredictionLength <= 0 {
		return nil, errors.New("encoder and prediction lengths must be > 0")
	}
	if cfg.HiddenSize <= 0 || cfg.NumFeatures <= 0 {
		return nil, errors.New("hidden size and feature count must be > 0")
	}
	if cfg.RNNLayers <= 0 {
		cfg.RNNLayers = 2
	}
	if cfg.EmbeddingSize <= 0 {
		cfg.EmbeddingSize = 8
	}
	if cfg.StaticCardinality <= 0 {
		cfg.StaticCardinality = 1
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 1e-2
	}
	model := &DeepAR{
		Config: cfg,
		Rand:   rand.New(rand.NewSource(cfg.Seed)),
	}
	model.Params.Init(cfg.StaticCardinality, cfg.EmbeddingSize, cfg.NumFeatures, cfg.HiddenSize, cfg.RNNLayers)
	model.initWeights()
	return model, nil
}

// DeepARFromDataset sizes a model from a dataset, the counterpart of
// constructing the network directly from the windowing object. Lengths,
// feature width and static cardinality come from the dataset; everything else
// from cfg.
func DeepARFromDataset(ds *TimeSeriesDataSet, cfg Config) (*DeepAR, error) {
	dsCfg := ds.Config()
	cfg.EncoderLength = dsCfg.MaxEncoderLength
	cfg.PredictionLength = dsCfg.MaxPredictionLength
	cfg.NumFeatures = ds.NumFeatures()
	cfg.StaticCardinality = ds.StaticCardinality()
	return NewDeepAR(cfg)
}

// initWeights draws uniform values scaled by fan-in, the usual recurrent
// network initialization.
func (model *DeepAR) initWeights() {
	H := model.Config.HiddenSize
	bound := 1 / Sqrt(float32(H))
	for i := range model.Params.Memory {
		model.Params.Memory[i] = (2*model.Rand.Float32() - 1) * bound
	}
	// forget gate biases start positive so early training can remember
	L := model.Config.RNNLayers
	for l := 0; l < L; l++ {
		biases := model.Params.GateB.data[l*4*H:]
		for k := 0; k < H; k++ {
			biases[H+k] = 1
		}
	}
}

func (model *DeepAR) String() string {
	var s string
	s += "[DeepAR]\n"
	s += fmt.Sprintf("encoder_length: %d\n", model.Config.EncoderLength)
	s += fmt.Sprintf("prediction_length: %d\n", model.Config.PredictionLength)
	s += fmt.Sprintf("hidden_size: %d\n", model.Config.HiddenSize)
	s += fmt.Sprintf("rnn_layers: %d\n", model.Config.RNNLayers)
	s += fmt.Sprintf("embedding_size: %d\n", model.Config.EmbeddingSize)
	s += fmt.Sprintf("dropout: %g\n", model.Config.Dropout)
	s += fmt.Sprintf("num_parameters: %d\n", model.NumParams())
	return s
}

// NumParams returns the number of learnable parameters.
func (model *DeepAR) NumParams() int {
	return model.Params.Len()
}

// slab offsets into the time-major activation tensors
func (model *DeepAR) hiddenAt(a *ActivationTensors, l, t int) []float32 {
	B, H := model.B, model.Config.HiddenSize
	return a.Hiddens.data[(l*model.T+t)*B*H:]
}

func (model *DeepAR) cellAt(a *ActivationTensors, l, t int) []float32 {
	B, H := model.B, model.Config.HiddenSize
	return a.Cells.data[(l*model.T+t)*B*H:]
}

func (model *DeepAR) droppedAt(a *ActivationTensors, l, t int) []float32 {
	B, H := model.B, model.Config.HiddenSize
	return a.Dropped.data[(l*model.T+t)*B*H:]
}

func (model *DeepAR) maskAt(a *ActivationTensors, l, t int) []float32 {
	B, H := model.B, model.Config.HiddenSize
	return a.DropMasks.data[(l*model.T+t)*B*H:]
}

func (model *DeepAR) gatesAt(a *ActivationTensors, l, t int) []float32 {
	B, H := model.B, model.Config.HiddenSize
	return a.Gates.data[(l*model.T+t)*B*4*H:]
}

func (model *DeepAR) inputsAt(a *ActivationTensors, t int) []float32 {
	return a.Inputs.data[t*model.B*model.Config.inputWidth():]
}

// layerParams returns the weight slices of layer l.
func (model *DeepAR) layerParams(p *ParameterTensors, l int) (wx, wh, bias []float32, inWidth int) {
	cfg := model.Config
	H := cfg.HiddenSize
	if l == 0 {
		wx = p.InputW.data
		inWidth = cfg.inputWidth()
	} else {
		wx = p.DeepW.data[(l-1)*4*H*H:]
		inWidth = H
	}
	wh = p.RecurW.data[l*4*H*H:]
	bias = p.GateB.data[l*4*H:]
	return wx, wh, bias, inWidth
}

// layerInput returns the input slab of layer l at step t, which is the
// assembled batch input for the bottom layer and the (dropped) hidden state
// of the layer below otherwise.
func (model *DeepAR) layerInput(a *ActivationTensors, l, t int) []float32 {
	if l == 0 {
		return model.inputsAt(a, t)
	}
	return model.droppedAt(a, l-1, t)
}

// Forward runs a teacher-forced pass over a batch and fills MeanLoss with
// the average decoder negative log-likelihood.
func (model *DeepAR) Forward(batch *Batch) error {
	cfg := model.Config
	if batch.T != cfg.windowLength() {
		return fmt.Errorf("batch window length %d does not match model %d", batch.T, cfg.windowLength())
	}
	if batch.F != cfg.NumFeatures {
		return fmt.Errorf("batch feature width %d does not match model %d", batch.F, cfg.NumFeatures)
	}
	B, T := batch.B, batch.T
	H, L, Fin := cfg.HiddenSize, cfg.RNNLayers, cfg.inputWidth()
	if model.Acts.Memory == nil || model.B != B || model.T != T {
		model.B, model.T = B, T
		model.Acts.Init(B, T, Fin, H, L)
		model.GradsActs = ActivationTensors{}
		model.Grads = ParameterTensors{}
		model.Targets = make([]float32, B*T)
		model.StaticIDs = make([]int32, B)
		model.zeroState = make([]float32, B*H)
		model.dcA = make([]float32, B*H)
		model.dcB = make([]float32, B*H)
		model.discard = make([]float32, B*H)
	}
	copy(model.Targets, batch.Targets)
	copy(model.StaticIDs, batch.StaticIDs)

	inputForward(model.Acts.Inputs.data, batch.Inputs, model.Params.StaticEmbed.data, batch.StaticIDs, B, T, cfg.NumFeatures, cfg.EmbeddingSize)

	for t := 0; t < T; t++ {
		for l := 0; l < L; l++ {
			wx, wh, bias, inWidth := model.layerParams(&model.Params, l)
			hPrev, cPrev := model.zeroState, model.zeroState
			if t > 0 {
				hPrev = model.hiddenAt(&model.Acts, l, t-1)
				cPrev = model.cellAt(&model.Acts, l, t-1)
			}
			lstmCellForward(
				model.hiddenAt(&model.Acts, l, t),
				model.cellAt(&model.Acts, l, t),
				model.gatesAt(&model.Acts, l, t),
				model.layerInput(&model.Acts, l, t),
				hPrev, cPrev, wx, wh, bias, B, inWidth, H)
			if l < L-1 {
				dropoutForward(
					model.droppedAt(&model.Acts, l, t),
					model.hiddenAt(&model.Acts, l, t),
					model.maskAt(&model.Acts, l, t),
					cfg.Dropout, model.Rand, model.Training, B*H)
			}
		}
	}

	top := model.hiddenAt(&model.Acts, L-1, 0)
	affineForward(model.Acts.Mu.data, top, model.Params.MuW.data, model.Params.MuB.data, T, B, H, 1)
	affineForward(model.Acts.SigmaRaw.data, top, model.Params.SigmaW.data, model.Params.SigmaB.data, T, B, H, 1)
	softplusForward(model.Acts.Sigma.data, model.Acts.SigmaRaw.data, sigmaEps, T*B)

	gaussianNLLForward(model.Acts.Losses.data, model.Acts.Mu.data, model.Acts.Sigma.data, model.Targets, B, T, cfg.EncoderLength)
	var meanLoss float32
	for _, l := range model.Acts.Losses.data {
		meanLoss += l
	}
	model.MeanLoss = meanLoss / float32(B*cfg.PredictionLength)
	return nil
}

// Backward computes gradients for the last Forward pass via backpropagation
// through time.
func (model *DeepAR) Backward() error {
	if model.Acts.Memory == nil {
		return errors.New("must forward before backward")
	}
	cfg := model.Config
	B, T := model.B, model.T
	H, L := cfg.HiddenSize, cfg.RNNLayers
	if len(model.Grads.Memory) == 0 {
		model.Grads.Init(cfg.StaticCardinality, cfg.EmbeddingSize, cfg.NumFeatures, H, L)
		model.GradsActs.Init(B, T, cfg.inputWidth(), H, L)
		model.ZeroGradient()
	}
	acts, gradsActs := &model.Acts, &model.GradsActs

	gaussianNLLBackward(gradsActs.Mu.data, gradsActs.Sigma.data, acts.Mu.data, acts.Sigma.data, model.Targets, B, T, cfg.EncoderLength)
	softplusBackward(gradsActs.SigmaRaw.data, gradsActs.Sigma.data, acts.SigmaRaw.data, T*B)

	top := model.hiddenAt(acts, L-1, 0)
	dtop := model.hiddenAt(gradsActs, L-1, 0)
	affineBackward(dtop, model.Grads.MuW.data, model.Grads.MuB.data, gradsActs.Mu.data, top, model.Params.MuW.data, T, B, H, 1)
	affineBackward(dtop, model.Grads.SigmaW.data, model.Grads.SigmaB.data, gradsActs.SigmaRaw.data, top, model.Params.SigmaW.data, T, B, H, 1)

	for l := L - 1; l >= 0; l-- {
		wx, wh, _, inWidth := model.layerParams(&model.Params, l)
		dwx, dwh, dbias, _ := model.layerParams(&model.Grads, l)
		dcNext, dcPrev := model.dcA, model.dcB
		zero(dcNext[:B*H])
		for t := T - 1; t >= 0; t-- {
			if l < L-1 {
				// fold gradients that arrived through the layer above back
				// through the dropout mask
				dropoutBackward(
					model.hiddenAt(gradsActs, l, t),
					model.droppedAt(gradsActs, l, t),
					model.maskAt(acts, l, t),
					B*H)
			}
			var dx []float32
			if l == 0 {
				dx = model.inputsAt(gradsActs, t)
			} else {
				dx = model.droppedAt(gradsActs, l-1, t)
			}
			hPrev, cPrev := model.zeroState, model.zeroState
			dhPrev := model.discard
			if t > 0 {
				hPrev = model.hiddenAt(acts, l, t-1)
				cPrev = model.cellAt(acts, l, t-1)
				dhPrev = model.hiddenAt(gradsActs, l, t-1)
			}
			zero(dcPrev[:B*H])
			lstmCellBackward(dx, dhPrev, dcPrev, dwx, dwh, dbias,
				model.hiddenAt(gradsActs, l, t), dcNext,
				model.gatesAt(acts, l, t), model.cellAt(acts, l, t),
				model.layerInput(acts, l, t), hPrev, cPrev, wx, wh,
				B, inWidth, H)
			dcNext, dcPrev = dcPrev, dcNext
		}
	}

	inputBackward(model.Grads.StaticEmbed.data, gradsActs.Inputs.data, model.StaticIDs, B, T, cfg.NumFeatures, cfg.EmbeddingSize)
	return nil
}

func zero(xs []float32) {
	for i := range xs {
		xs[i] = 0
	}
}

// ZeroGradient clears parameter and activation gradients.
func (model *DeepAR) ZeroGradient() {
	zero(model.Grads.Memory)
	zero(model.GradsActs.Memory)
}

// GradNorm returns the global L2 norm of the parameter gradients.
func (model *DeepAR) GradNorm() float32 {
	return globalNorm(model.Grads.Memory)
}

// ClipGradients rescales the gradients to a maximum global norm and returns
// the norm before clipping.
func (model *DeepAR) ClipGradients(maxNorm float32) float32 {
	norm := model.GradNorm()
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for i := range model.Grads.Memory {
			model.Grads.Memory[i] *= scale
		}
	}
	return norm
}

// Update applies one AdamW step with bias-corrected moments.
func (model *DeepAR) Update(learningRate, beta1, beta2, eps, weightDecay float32, t int) {
	if model.MMemory == nil {
		model.MMemory = make([]float32, model.Params.Len())
		model.VMemory = make([]float32, model.Params.Len())
	}
	for i := 0; i < model.Params.Len(); i++ {
		parameter := model.Params.Memory[i]
		gradient := model.Grads.Memory[i]
		m := beta1*model.MMemory[i] + (1.0-beta1)*gradient
		v := beta2*model.VMemory[i] + (1.0-beta2)*gradient*gradient
		mHat := m / (1.0 - Pow(beta1, float32(t)))
		vHat := v / (1.0 - Pow(beta2, float32(t)))
		model.MMemory[i] = m
		model.VMemory[i] = v
		model.Params.Memory[i] -= learningRate * (mHat/(Sqrt(vHat)+eps) + weightDecay*parameter)
	}
}
