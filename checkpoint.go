package deepargo

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	checkpointMagic   int32 = 20240612
	checkpointVersion int32 = 1
)

// SaveCheckpoint writes the model configuration and weights to path as a
// little-endian binary file with a fixed 256-int32 header.
func (model *DeepAR) SaveCheckpoint(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()
	return model.writeCheckpoint(f)
}

func (model *DeepAR) writeCheckpoint(w io.Writer) error {
	cfg := model.Config
	header := make([]int32, 256)
	header[0] = checkpointMagic
	header[1] = checkpointVersion
	header[2] = int32(cfg.EncoderLength)
	header[3] = int32(cfg.PredictionLength)
	header[4] = int32(cfg.HiddenSize)
	header[5] = int32(cfg.RNNLayers)
	header[6] = int32(cfg.EmbeddingSize)
	header[7] = int32(cfg.StaticCardinality)
	header[8] = int32(cfg.NumFeatures)
	header[9] = int32(math.Float32bits(cfg.Dropout))
	header[10] = int32(math.Float32bits(cfg.LearningRate))
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write checkpoint header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, model.Params.Memory); err != nil {
		return fmt.Errorf("write checkpoint params: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a model written by SaveCheckpoint.
func LoadCheckpoint(path string) (*DeepAR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	return readCheckpoint(f)
}

func readCheckpoint(r io.Reader) (*DeepAR, error) {
	header := make([]int32, 256)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("read checkpoint header: %w", err)
	}
	if header[0] != checkpointMagic || header[1] != checkpointVersion {
		return nil, fmt.Errorf("bad checkpoint file format")
	}
	cfg := Config{
		EncoderLength:     int(header[2]),
		PredictionLength:  int(header[3]),
		HiddenSize:        int(header[4]),
		RNNLayers:         int(header[5]),
		EmbeddingSize:     int(header[6]),
		StaticCardinality: int(header[7]),
		NumFeatures:       int(header[8]),
		Dropout:           math.Float32frombits(uint32(header[9])),
		LearningRate:      math.Float32frombits(uint32(header[10])),
	}
	model, err := NewDeepAR(cfg)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, model.Params.Memory); err != nil {
		return nil, fmt.Errorf("read checkpoint params: %w", err)
	}
	return model, nil
}
