package deepargo

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// CLI flag variables
var (
	flagDataPath      string
	flagDataURL       string
	flagCheckpoint    string
	flagSeed          int64
	flagBatchSize     int
	flagEncoderLen    int
	flagPredictionLen int
	flagHiddenSize    int
	flagRNNLayers     int
	flagDropout       float32
	flagLearningRate  float32
	flagMaxEpochs     int
	flagClipVal       float32
	flagLimitTrain    int
	flagLimitVal      int
	flagSamples       int
	flagValSeries     int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deepar",
	Short: "CLI tool to train and run DeepAR forecasting models",
	Long: `
		This CLI tool trains DeepAR probabilistic forecasting models on panel
		time-series data, runs a learning-rate range test, and produces Monte
		Carlo forecasts with quantile bands. Data can come from a long-format
		CSV file or from a built-in synthetic autoregressive generator.
	`,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a DeepAR model",
	Long:  `This command loads or generates a panel of series, fits a DeepAR model with early stopping, reports validation error and optionally writes a checkpoint.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		model, _, valLoader, err := trainModel(ctx)
		if err != nil {
			fmt.Println("training failed:", err)
			return
		}

		mae, err := evalMAE(model, valLoader, flagSamples)
		if err != nil {
			fmt.Println("evaluation failed:", err)
			return
		}
		fmt.Printf("Mean absolute error of model: %f\n", mae)

		if flagCheckpoint != "" {
			if err := os.MkdirAll(filepath.Dir(flagCheckpoint), os.ModePerm); err != nil {
				fmt.Println("failed to create checkpoint directory:", err)
				return
			}
			if err := model.SaveCheckpoint(flagCheckpoint); err != nil {
				fmt.Println("failed to write checkpoint:", err)
				return
			}
			fmt.Println("checkpoint written to", flagCheckpoint)
		}
	},
}

var lrfindCmd = &cobra.Command{
	Use:   "lrfind",
	Short: "Run the learning-rate range test",
	Long:  `This command sweeps the learning rate over a log range, records the smoothed loss at each step and suggests a rate from the steepest descent of the curve.`,
	Run: func(cmd *cobra.Command, args []string) {
		training, _, err := loadDatasets()
		if err != nil {
			fmt.Println("failed to load data:", err)
			return
		}
		loader, err := NewDataLoader(training, flagBatchSize, true, flagSeed)
		if err != nil {
			fmt.Println("failed to build loader:", err)
			return
		}
		model, err := DeepARFromDataset(training, cliConfig())
		if err != nil {
			fmt.Println("failed to build model:", err)
			return
		}

		trainer := &Trainer{MaxEpochs: 1, GradientClipVal: flagClipVal}
		result, err := trainer.FindLR(model, loader, DefaultLRFinderOptions())
		if err != nil {
			fmt.Println("lr find failed:", err)
			return
		}
		result.Plot(os.Stdout)
		fmt.Printf("suggested learning rate: %.6g\n", result.Suggestion())
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Forecast from a trained checkpoint",
	Long:  `This command restores a model checkpoint, runs Monte Carlo forecasting over the validation windows and prints console charts with quantile bands.`,
	Run: func(cmd *cobra.Command, args []string) {
		if flagCheckpoint == "" {
			fmt.Println("predict requires --checkpoint")
			fmt.Println("did you forget to run `deepar train --checkpoint <path>`?")
			return
		}
		model, err := LoadCheckpoint(flagCheckpoint)
		if err != nil {
			fmt.Println("failed to load checkpoint:", err)
			return
		}

		_, validation, err := loadDatasets()
		if err != nil {
			fmt.Println("failed to load data:", err)
			return
		}
		loader, err := NewDataLoader(validation, flagBatchSize, false, flagSeed)
		if err != nil {
			fmt.Println("failed to build loader:", err)
			return
		}
		batch, err := loader.NextBatch()
		if err != nil {
			fmt.Println("failed to read batch:", err)
			return
		}
		pred, err := model.Predict(batch, flagSamples)
		if err != nil {
			fmt.Println("prediction failed:", err)
			return
		}
		p10 := pred.Quantile(0.1)
		p50 := pred.Quantile(0.5)
		p90 := pred.Quantile(0.9)
		horizon := batch.PredictionLength()
		for b := 0; b < batch.B; b++ {
			history := make([]float64, batch.EncoderLength)
			for t := 0; t < batch.EncoderLength; t++ {
				history[t] = float64(batch.Targets[b*batch.T+t])*float64(batch.Scales[b]) + float64(batch.Centers[b])
			}
			actual := batch.RawFuture[b*horizon : (b+1)*horizon]
			title := fmt.Sprintf("series %s", batch.SeriesIDs[b])
			PlotPrediction(os.Stdout, history, actual, p50[b], p10[b], p90[b], title)
		}
	},
}

// cliConfig assembles a model config from the CLI flags.
func cliConfig() Config {
	return Config{
		HiddenSize:   flagHiddenSize,
		RNNLayers:    flagRNNLayers,
		Dropout:      flagDropout,
		LearningRate: flagLearningRate,
		Seed:         flagSeed,
	}
}

// loadPanel reads the CSV panel if a path is set, downloading it first when a
// URL is given, and otherwise falls back to the synthetic generator.
func loadPanel() (Panel, error) {
	if flagDataPath != "" {
		if _, err := os.Stat(flagDataPath); os.IsNotExist(err) && flagDataURL != "" {
			fmt.Println("Dataset not found, downloading...")
			if err := DownloadDataset(flagDataPath, flagDataURL); err != nil {
				return nil, fmt.Errorf("failed to download dataset: %w", err)
			}
		}
		return LoadCSV(flagDataPath, nil)
	}
	return GenerateARData(ARDataOptions{
		Seasonality: 10,
		Timesteps:   400,
		NSeries:     100,
		Trend:       2,
		Seed:        flagSeed,
	})
}

// loadDatasets splits the panel into train and validation datasets sharing
// one configuration and encoder.
func loadDatasets() (*TimeSeriesDataSet, *TimeSeriesDataSet, error) {
	panel, err := loadPanel()
	if err != nil {
		return nil, nil, err
	}
	rng := rand.New(rand.NewSource(flagSeed))
	valIDs := panel.SampleIDs(flagValSeries, rng)
	trainPanel, valPanel := panel.Split(valIDs)

	training, err := NewTimeSeriesDataSet(trainPanel, DataSetConfig{
		MaxEncoderLength:    flagEncoderLen,
		MaxPredictionLength: flagPredictionLen,
		AddTargetScales:     true,
		Randomize:           true,
	}, nil)
	if err != nil {
		return nil, nil, err
	}
	validation, err := FromDataset(training, valPanel, true)
	if err != nil {
		return nil, nil, err
	}
	return training, validation, nil
}

func trainModel(ctx context.Context) (*DeepAR, *DataLoader, *DataLoader, error) {
	training, validation, err := loadDatasets()
	if err != nil {
		return nil, nil, nil, err
	}
	trainLoader, err := NewDataLoader(training, flagBatchSize, true, flagSeed)
	if err != nil {
		return nil, nil, nil, err
	}
	valLoader, err := NewDataLoader(validation, flagBatchSize, false, flagSeed)
	if err != nil {
		return nil, nil, nil, err
	}

	model, err := DeepARFromDataset(training, cliConfig())
	if err != nil {
		return nil, nil, nil, err
	}
	fmt.Printf("Number of parameters in network: %.1fk\n", float64(model.NumParams())/1e3)

	trainer := &Trainer{
		MaxEpochs:         flagMaxEpochs,
		GradientClipVal:   flagClipVal,
		LimitTrainBatches: flagLimitTrain,
		LimitValBatches:   flagLimitVal,
		Callbacks: []Callback{
			LearningRateMonitor{},
			NewEarlyStopping(1e-4, 5),
		},
	}
	if err := trainer.Fit(ctx, model, trainLoader, valLoader); err != nil {
		return nil, nil, nil, err
	}
	return model, trainLoader, valLoader, nil
}

// evalMAE runs Monte Carlo prediction over the whole loader and returns the
// mean absolute error of the forecast means against the unscaled actuals.
func evalMAE(model *DeepAR, loader *DataLoader, nSamples int) (float64, error) {
	loader.Reset()
	var actuals, predictions []float64
	for i := 0; i < loader.NumBatches; i++ {
		batch, err := loader.NextBatch()
		if err != nil {
			return 0, err
		}
		pred, err := model.Predict(batch, nSamples)
		if err != nil {
			return 0, err
		}
		horizon := batch.PredictionLength()
		for b := 0; b < batch.B; b++ {
			actuals = append(actuals, batch.RawFuture[b*horizon:(b+1)*horizon]...)
			predictions = append(predictions, pred.Mean[b]...)
		}
	}
	return MAE(actuals, predictions), nil
}

func InitializeCommand() {
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(lrfindCmd)
	rootCmd.AddCommand(predictCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDataPath, "data", "", "path to a long-format CSV panel (empty = synthetic data)")
	pf.StringVar(&flagDataURL, "data-url", "", "URL to download the CSV panel from when missing")
	pf.StringVar(&flagCheckpoint, "checkpoint", "", "model checkpoint path")
	pf.Int64Var(&flagSeed, "seed", 42, "random seed")
	pf.IntVar(&flagBatchSize, "batch-size", 64, "windows per batch")
	pf.IntVar(&flagEncoderLen, "encoder-length", 60, "conditioning steps per window")
	pf.IntVar(&flagPredictionLen, "prediction-length", 20, "forecast steps per window")
	pf.IntVar(&flagHiddenSize, "hidden-size", 32, "LSTM hidden units")
	pf.IntVar(&flagRNNLayers, "rnn-layers", 2, "stacked LSTM layers")
	pf.Float32Var(&flagDropout, "dropout", 0.1, "dropout between LSTM layers")
	pf.Float32Var(&flagLearningRate, "learning-rate", 0.1, "AdamW learning rate")
	pf.IntVar(&flagMaxEpochs, "max-epochs", 10, "training epochs")
	pf.Float32Var(&flagClipVal, "gradient-clip-val", 0.1, "global gradient norm clip")
	pf.IntVar(&flagLimitTrain, "limit-train-batches", 30, "train batches per epoch, 0 = all")
	pf.IntVar(&flagLimitVal, "limit-val-batches", 3, "validation batches per epoch, 0 = all")
	pf.IntVar(&flagSamples, "samples", 100, "Monte Carlo sample paths per forecast")
	pf.IntVar(&flagValSeries, "val-series", 20, "series held out for validation")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
