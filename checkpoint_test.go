package deepargo

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	model, err := NewDeepAR(Config{
		EncoderLength:     3,
		PredictionLength:  2,
		HiddenSize:        4,
		RNNLayers:         2,
		EmbeddingSize:     2,
		StaticCardinality: 3,
		NumFeatures:       2,
		Dropout:           0.1,
		LearningRate:      0.05,
		Seed:              9,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, model.writeCheckpoint(&buf))

	restored, err := readCheckpoint(&buf)
	require.NoError(t, err)

	cfg := model.Config
	cfg.Seed = 0 // the seed is not persisted
	assert.Equal(t, cfg, restored.Config)
	assert.Equal(t, model.Params.Memory, restored.Params.Memory)
}

func TestCheckpointFile(t *testing.T) {
	model, err := NewDeepAR(Config{
		EncoderLength:    3,
		PredictionLength: 2,
		HiddenSize:       4,
		NumFeatures:      2,
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, model.SaveCheckpoint(path))

	restored, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, model.Params.Memory, restored.Params.Memory)

	_, err = LoadCheckpoint(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestCheckpointBadMagic(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, 256*4))
	_, err := readCheckpoint(buf)
	assert.Error(t, err)
}
