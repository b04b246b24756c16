// Package deepargo implements DeepAR-style probabilistic time-series
// forecasting in pure Go: windowed panel datasets, a stacked-LSTM network
// with a Gaussian output head trained by backpropagation through time and
// AdamW, a fit loop with gradient clipping, early stopping and a
// learning-rate range test, plus Monte Carlo forecasting with quantiles.
package deepargo
