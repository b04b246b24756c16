package deepargo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallModelAndBatch(t *testing.T) (*DeepAR, *Batch) {
	t.Helper()
	panel := makePanel(t, 2, 10)
	ds, err := NewTimeSeriesDataSet(panel, DataSetConfig{
		MaxEncoderLength:    3,
		MaxPredictionLength: 2,
		AddTargetScales:     true,
	}, nil)
	require.NoError(t, err)
	loader, err := NewDataLoader(ds, 2, false, 0)
	require.NoError(t, err)
	batch, err := loader.NextBatch()
	require.NoError(t, err)

	model, err := DeepARFromDataset(ds, Config{
		HiddenSize:    4,
		RNNLayers:     2,
		EmbeddingSize: 2,
		Seed:          1,
	})
	require.NoError(t, err)
	return model, batch
}

func TestNewDeepAR(t *testing.T) {
	type args struct {
		cfg Config
	}
	tests := []struct {
		name       string
		args       args
		wantParams int
		wantErr    bool
	}{
		{
			name: "param count",
			args: args{cfg: Config{
				EncoderLength:     3,
				PredictionLength:  2,
				HiddenSize:        4,
				RNNLayers:         2,
				EmbeddingSize:     2,
				StaticCardinality: 3,
				NumFeatures:       2,
			}},
			// 3*2 + 4*4*(2+2) + 1*4*4*4 + 2*4*4*4 + 2*4*4 + 4+1+4+1
			wantParams: 304,
		},
		{
			name:    "missing lengths",
			args:    args{cfg: Config{HiddenSize: 4, NumFeatures: 2}},
			wantErr: true,
		},
		{
			name:    "missing hidden size",
			args:    args{cfg: Config{EncoderLength: 3, PredictionLength: 2, NumFeatures: 2}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := NewDeepAR(tt.args.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantParams, model.NumParams())
			assert.Contains(t, model.String(), "[DeepAR]")
		})
	}
}

func TestDeepARForward(t *testing.T) {
	model, batch := smallModelAndBatch(t)

	require.NoError(t, model.Forward(batch))
	assert.False(t, IsNaN(model.MeanLoss))
	assert.Positive(t, model.MeanLoss)

	// encoder steps carry no loss, decoder steps do
	B, enc := batch.B, batch.EncoderLength
	for t2 := 0; t2 < batch.T; t2++ {
		for b := 0; b < B; b++ {
			l := model.Acts.Losses.data[t2*B+b]
			if t2 < enc {
				assert.Zero(t, l)
			} else {
				assert.NotZero(t, l)
			}
		}
	}

	for _, s := range model.Acts.Sigma.data {
		assert.Positive(t, s)
	}
}

func TestDeepARForwardDimensionErrors(t *testing.T) {
	model, batch := smallModelAndBatch(t)

	wrongT := *batch
	wrongT.T = batch.T + 1
	assert.Error(t, model.Forward(&wrongT))

	wrongF := *batch
	wrongF.F = batch.F + 1
	assert.Error(t, model.Forward(&wrongF))
}

func TestDeepARBackwardBeforeForward(t *testing.T) {
	model, err := NewDeepAR(Config{EncoderLength: 3, PredictionLength: 2, HiddenSize: 4, NumFeatures: 2})
	require.NoError(t, err)
	assert.Error(t, model.Backward())
}

func TestDeepARGradientsFiniteDifference(t *testing.T) {
	const step = 1e-3
	model, batch := smallModelAndBatch(t)

	require.NoError(t, model.Forward(batch))
	model.ZeroGradient()
	require.NoError(t, model.Backward())

	grads := append([]float32(nil), model.Grads.Memory...)
	stride := len(model.Params.Memory)/25 + 1
	for i := 0; i < len(model.Params.Memory); i += stride {
		orig := model.Params.Memory[i]
		model.Params.Memory[i] = orig + step
		require.NoError(t, model.Forward(batch))
		up := model.MeanLoss
		model.Params.Memory[i] = orig - step
		require.NoError(t, model.Forward(batch))
		down := model.MeanLoss
		model.Params.Memory[i] = orig
		numeric := (up - down) / (2 * step)
		assert.InDelta(t, numeric, grads[i], 1e-2, "parameter %d", i)
	}
}

func TestDeepARTrainingReducesLoss(t *testing.T) {
	panel := makePanel(t, 10, 100)
	ds, err := NewTimeSeriesDataSet(panel, DataSetConfig{
		MaxEncoderLength:    10,
		MaxPredictionLength: 5,
		AddTargetScales:     true,
		Randomize:           true,
	}, nil)
	require.NoError(t, err)
	loader, err := NewDataLoader(ds, 16, true, 1)
	require.NoError(t, err)

	model, err := DeepARFromDataset(ds, Config{
		HiddenSize:   16,
		RNNLayers:    2,
		LearningRate: 1e-2,
		Seed:         1,
	})
	require.NoError(t, err)
	model.Training = true

	const steps = 40
	losses := make([]float64, 0, steps)
	for i := 1; i <= steps; i++ {
		batch, err := loader.NextBatch()
		require.NoError(t, err)
		require.NoError(t, model.Forward(batch))
		model.ZeroGradient()
		require.NoError(t, model.Backward())
		model.ClipGradients(1)
		model.Update(model.Config.LearningRate, 0.9, 0.999, 1e-8, 0, i)
		losses = append(losses, float64(model.MeanLoss))
	}

	head := mean(losses[:5])
	tail := mean(losses[len(losses)-5:])
	assert.Less(t, tail, head, "loss should fall over %d steps (%.4f -> %.4f)", steps, head, tail)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func TestDeepARClipGradients(t *testing.T) {
	model, batch := smallModelAndBatch(t)
	require.NoError(t, model.Forward(batch))
	model.ZeroGradient()
	require.NoError(t, model.Backward())

	before := model.GradNorm()
	require.Positive(t, before)
	maxNorm := before / 2
	returned := model.ClipGradients(maxNorm)
	assert.InDelta(t, before, returned, delta)
	assert.InDelta(t, maxNorm, model.GradNorm(), 1e-3)

	// already within bounds leaves gradients alone
	after := model.GradNorm()
	model.ClipGradients(before)
	assert.InDelta(t, after, model.GradNorm(), delta)
}

func TestDeepARUpdateMovesParams(t *testing.T) {
	model, batch := smallModelAndBatch(t)
	require.NoError(t, model.Forward(batch))
	model.ZeroGradient()
	require.NoError(t, model.Backward())

	before := append([]float32(nil), model.Params.Memory...)
	model.Update(1e-2, 0.9, 0.999, 1e-8, 0, 1)
	assert.NotEqual(t, before, model.Params.Memory)
}

func TestDeepARPredict(t *testing.T) {
	model, batch := smallModelAndBatch(t)

	const nSamples = 20
	pred, err := model.Predict(batch, nSamples)
	require.NoError(t, err)
	require.Len(t, pred.Mean, batch.B)
	require.Len(t, pred.Samples, batch.B)

	horizon := batch.PredictionLength()
	p10 := pred.Quantile(0.1)
	p90 := pred.Quantile(0.9)
	for b := 0; b < batch.B; b++ {
		assert.Len(t, pred.Mean[b], horizon)
		assert.Len(t, pred.Samples[b], nSamples)
		for h := 0; h < horizon; h++ {
			assert.False(t, IsNaN(float32(pred.Mean[b][h])))
			assert.LessOrEqual(t, p10[b][h], p90[b][h])
		}
	}
}

func TestDeepARPredictErrors(t *testing.T) {
	model, batch := smallModelAndBatch(t)

	_, err := model.Predict(batch, 0)
	assert.Error(t, err)

	wrong := *batch
	wrong.T = batch.T + 1
	_, err = model.Predict(&wrong, 10)
	assert.Error(t, err)
}
