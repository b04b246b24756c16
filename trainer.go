package deepargo

import (
	"context"
	"errors"
	"log"
	"time"
)

// Callback is notified at the end of every epoch. Returning true stops
// training.
type Callback interface {
	OnEpochEnd(epoch int, trainLoss, valLoss float64, model *DeepAR) (stop bool)
}

// EarlyStopping halts training when the monitored quantity stops improving by
// more than MinDelta for Patience consecutive epochs.
type EarlyStopping struct {
	MinDelta float64
	Patience int
	Verbose  bool
	Mode     string // "min" or "max"

	best    float64
	wait    int
	started bool
}

// NewEarlyStopping returns a minimizing early-stopping callback.
func NewEarlyStopping(minDelta float64, patience int) *EarlyStopping {
	return &EarlyStopping{MinDelta: minDelta, Patience: patience, Mode: "min"}
}

func (es *EarlyStopping) OnEpochEnd(epoch int, trainLoss, valLoss float64, model *DeepAR) bool {
	improved := false
	if !es.started {
		es.started = true
		improved = true
	} else if es.Mode == "max" {
		improved = valLoss > es.best+es.MinDelta
	} else {
		improved = valLoss < es.best-es.MinDelta
	}
	if improved {
		es.best = valLoss
		es.wait = 0
		return false
	}
	es.wait++
	if es.wait >= es.Patience {
		if es.Verbose {
			log.Printf("early stopping at epoch=%d best_val_loss=%.6f", epoch, es.best)
		}
		return true
	}
	return false
}

// LearningRateMonitor logs the model's learning rate once per epoch.
type LearningRateMonitor struct{}

func (LearningRateMonitor) OnEpochEnd(epoch int, trainLoss, valLoss float64, model *DeepAR) bool {
	log.Printf("epoch=%d lr=%.6g", epoch, model.Config.LearningRate)
	return false
}

// Trainer drives the fit loop: batches, gradient clipping, AdamW updates,
// a limited validation pass per epoch and callback dispatch.
type Trainer struct {
	MaxEpochs         int
	GradientClipVal   float32
	LimitTrainBatches int // cap on train batches per epoch, 0 = all
	LimitValBatches   int // cap on validation batches, 0 = all
	LogEvery          int
	WeightDecay       float32
	Callbacks         []Callback

	step int // global optimizer step, carried across epochs
}

func (tr *Trainer) trainBatches(loader *DataLoader) int {
	n := loader.NumBatches
	if tr.LimitTrainBatches > 0 && tr.LimitTrainBatches < n {
		n = tr.LimitTrainBatches
	}
	return n
}

func (tr *Trainer) valBatches(loader *DataLoader) int {
	n := loader.NumBatches
	if tr.LimitValBatches > 0 && tr.LimitValBatches < n {
		n = tr.LimitValBatches
	}
	return n
}

// Fit trains the model until MaxEpochs or an early-stopping callback fires.
func (tr *Trainer) Fit(ctx context.Context, model *DeepAR, trainLoader, valLoader *DataLoader) error {
	if tr.MaxEpochs <= 0 {
		return errors.New("trainer: max epochs must be > 0")
	}
	logEvery := tr.LogEvery
	if logEvery <= 0 {
		logEvery = 10
	}
	var window Window
	for epoch := 1; epoch <= tr.MaxEpochs; epoch++ {
		model.Training = true
		var trainLoss float64
		batches := tr.trainBatches(trainLoader)
		for i := 0; i < batches; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			startData := time.Now()
			batch, err := trainLoader.NextBatch()
			if err != nil {
				return err
			}
			dataTime := time.Since(startData)

			startCompute := time.Now()
			if err := model.Forward(batch); err != nil {
				return err
			}
			model.ZeroGradient()
			if err := model.Backward(); err != nil {
				return err
			}
			model.ClipGradients(tr.GradientClipVal)
			tr.step++
			model.Update(model.Config.LearningRate, 0.9, 0.999, 1e-8, tr.WeightDecay, tr.step)
			computeTime := time.Since(startCompute)

			trainLoss += float64(model.MeanLoss)
			window.Record(batch.B, dataTime, computeTime, float64(model.MeanLoss))
			if tr.step%logEvery == 0 {
				snap := window.Snapshot()
				log.Printf("step=%d windows_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
					tr.step, snap.WindowsPerSec, snap.AvgDataMS, snap.AvgComputeMS, snap.LastLoss)
			}
		}
		trainLoss /= float64(batches)

		valLoss, err := tr.Validate(ctx, model, valLoader)
		if err != nil {
			return err
		}
		log.Printf("epoch=%d train_loss=%.4f val_loss=%.4f", epoch, trainLoss, valLoss)

		stop := false
		for _, cb := range tr.Callbacks {
			if cb.OnEpochEnd(epoch, trainLoss, valLoss, model) {
				stop = true
			}
		}
		if stop {
			break
		}
	}
	model.Training = false
	return nil
}

// Validate runs a forward-only pass over the validation loader and returns
// the mean decoder loss.
func (tr *Trainer) Validate(ctx context.Context, model *DeepAR, loader *DataLoader) (float64, error) {
	prev := model.Training
	model.Training = false
	defer func() { model.Training = prev }()
	loader.Reset()
	batches := tr.valBatches(loader)
	var total float64
	for i := 0; i < batches; i++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		batch, err := loader.NextBatch()
		if err != nil {
			return 0, err
		}
		if err := model.Forward(batch); err != nil {
			return 0, err
		}
		total += float64(model.MeanLoss)
	}
	return total / float64(batches), nil
}
