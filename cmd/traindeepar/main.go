// Command traindeepar trains a DeepAR model on a synthetic autoregressive
// panel and reports validation error and example forecasts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshcarp/deepargo"
)

const (
	seed               = 42
	batchSize          = 64
	maxEncoderLength   = 60
	maxPredictionLen   = 20
	predictionSamples  = 100
	plotExamples       = 10
	exportedResultFile = "forecast_results.json"
)

// ForecastResult holds one window's forecast for JSON export.
type ForecastResult struct {
	Series  string    `json:"series"`
	History []float64 `json:"history"`
	Actual  []float64 `json:"actual"`
	Mean    []float64 `json:"mean"`
	P10     []float64 `json:"p10"`
	P50     []float64 `json:"p50"`
	P90     []float64 `json:"p90"`
}

// OutputData holds everything the offline visualizer needs.
type OutputData struct {
	MAE       float64          `json:"mae"`
	RMSE      float64          `json:"rmse"`
	SMAPE     float64          `json:"smape"`
	Forecasts []ForecastResult `json:"forecasts"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	panel, err := deepargo.GenerateARData(deepargo.ARDataOptions{
		Seasonality: 10,
		Timesteps:   400,
		NSeries:     100,
		Trend:       2,
		Seed:        seed,
	})
	if err != nil {
		log.Fatal(err)
	}

	rng := rand.New(rand.NewSource(seed))
	valIDs := panel.SampleIDs(20, rng)
	trainPanel, valPanel := panel.Split(valIDs)

	training, err := deepargo.NewTimeSeriesDataSet(trainPanel, deepargo.DataSetConfig{
		MaxEncoderLength:    maxEncoderLength,
		MaxPredictionLength: maxPredictionLen,
		AddTargetScales:     true,
		Randomize:           true,
	}, nil)
	if err != nil {
		log.Fatal(err)
	}
	validation, err := deepargo.FromDataset(training, valPanel, true)
	if err != nil {
		log.Fatal(err)
	}

	trainLoader, err := deepargo.NewDataLoader(training, batchSize, true, seed)
	if err != nil {
		log.Fatal(err)
	}
	valLoader, err := deepargo.NewDataLoader(validation, batchSize, false, seed)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("train dataset num_batches: %d\n", trainLoader.NumBatches)

	trainer := &deepargo.Trainer{
		MaxEpochs:         10,
		GradientClipVal:   0.1,
		LimitTrainBatches: 30,
		LimitValBatches:   3,
		Callbacks: []deepargo.Callback{
			deepargo.LearningRateMonitor{},
			deepargo.NewEarlyStopping(1e-4, 5),
		},
	}

	model, err := deepargo.DeepARFromDataset(training, deepargo.Config{
		LearningRate: 0.1,
		HiddenSize:   32,
		RNNLayers:    2,
		Dropout:      0.1,
		Seed:         seed,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Number of parameters in network: %.1fk\n", float64(model.NumParams())/1e3)

	res, err := trainer.FindLR(model, trainLoader, deepargo.DefaultLRFinderOptions())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("suggested learning rate: %v\n", res.Suggestion())
	model.Config.LearningRate = float32(res.Suggestion())
	trainLoader.Reset()

	if err := trainer.Fit(ctx, model, trainLoader, valLoader); err != nil {
		log.Fatal(err)
	}

	mae, output, err := evalPredictions(model, valLoader)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Mean absolute error of model: %f\n", mae)

	if err := plotPredictions(model, valLoader); err != nil {
		log.Fatal(err)
	}

	if data, err := json.MarshalIndent(output, "", "  "); err == nil {
		if err := os.WriteFile(exportedResultFile, data, 0644); err == nil {
			fmt.Printf("Exported forecasts to %s\n", exportedResultFile)
		}
	}
}

// evalPredictions computes error metrics over the full validation loader.
func evalPredictions(model *deepargo.DeepAR, loader *deepargo.DataLoader) (float64, *OutputData, error) {
	loader.Reset()
	var actuals, predictions []float64
	output := &OutputData{}
	for i := 0; i < loader.NumBatches; i++ {
		batch, err := loader.NextBatch()
		if err != nil {
			return 0, nil, err
		}
		pred, err := model.Predict(batch, predictionSamples)
		if err != nil {
			return 0, nil, err
		}
		horizon := batch.PredictionLength()
		p10 := pred.Quantile(0.1)
		p50 := pred.Quantile(0.5)
		p90 := pred.Quantile(0.9)
		for b := 0; b < batch.B; b++ {
			actual := batch.RawFuture[b*horizon : (b+1)*horizon]
			actuals = append(actuals, actual...)
			predictions = append(predictions, pred.Mean[b]...)
			if len(output.Forecasts) < plotExamples {
				history := make([]float64, batch.EncoderLength)
				for t := 0; t < batch.EncoderLength; t++ {
					history[t] = float64(batch.Targets[b*batch.T+t])*float64(batch.Scales[b]) + float64(batch.Centers[b])
				}
				output.Forecasts = append(output.Forecasts, ForecastResult{
					Series:  batch.SeriesIDs[b],
					History: history,
					Actual:  append([]float64(nil), actual...),
					Mean:    append([]float64(nil), pred.Mean[b]...),
					P10:     p10[b],
					P50:     p50[b],
					P90:     p90[b],
				})
			}
		}
	}
	output.MAE = deepargo.MAE(actuals, predictions)
	output.RMSE = deepargo.RMSE(actuals, predictions)
	output.SMAPE = deepargo.SMAPE(actuals, predictions)
	return output.MAE, output, nil
}

// plotPredictions renders a handful of validation windows to stdout.
func plotPredictions(model *deepargo.DeepAR, loader *deepargo.DataLoader) error {
	loader.Reset()
	batch, err := loader.NextBatch()
	if err != nil {
		return err
	}
	pred, err := model.Predict(batch, predictionSamples)
	if err != nil {
		return err
	}
	p10 := pred.Quantile(0.1)
	p50 := pred.Quantile(0.5)
	p90 := pred.Quantile(0.9)
	horizon := batch.PredictionLength()
	n := plotExamples
	if n > batch.B {
		n = batch.B
	}
	for b := 0; b < n; b++ {
		history := make([]float64, batch.EncoderLength)
		for t := 0; t < batch.EncoderLength; t++ {
			// undo the per-series scaling the loader applied
			history[t] = float64(batch.Targets[b*batch.T+t])*float64(batch.Scales[b]) + float64(batch.Centers[b])
		}
		actual := batch.RawFuture[b*horizon : (b+1)*horizon]
		mae := deepargo.MAE(actual, pred.Mean[b])
		title := fmt.Sprintf("series %s | MAE %.3f", batch.SeriesIDs[b], mae)
		deepargo.PlotPrediction(os.Stdout, history, actual, p50[b], p10[b], p90[b], title)
	}
	return nil
}
