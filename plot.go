package deepargo

import (
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	plotHeight  = 12
	historyMark = '.'
	actualMark  = 'o'
	medianMark  = '*'
	bandMark    = ':'
)

// PlotPrediction renders one forecast window as a console chart: the observed
// history, the actual future, the predicted median and a quantile band.
// Slices lower/upper may be nil to skip the band.
func PlotPrediction(w io.Writer, history, actual, median, lower, upper []float64, title string) {
	width := len(history) + len(actual)
	if width == 0 {
		return
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, xs := range [][]float64{history, actual, median, lower, upper} {
		for _, v := range xs {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if hi == lo {
		hi = lo + 1
	}
	row := func(v float64) int {
		r := int((hi - v) / (hi - lo) * float64(plotHeight-1))
		if r < 0 {
			r = 0
		}
		if r >= plotHeight {
			r = plotHeight - 1
		}
		return r
	}

	grid := make([][]byte, plotHeight)
	for i := range grid {
		grid[i] = []byte(strings.Repeat(" ", width))
	}
	offset := len(history)
	for x := 0; x < len(lower) && x < len(upper); x++ {
		top, bottom := row(upper[x]), row(lower[x])
		for y := top; y <= bottom; y++ {
			grid[y][offset+x] = bandMark
		}
	}
	for x, v := range history {
		grid[row(v)][x] = historyMark
	}
	for x, v := range actual {
		grid[row(v)][offset+x] = actualMark
	}
	for x, v := range median {
		grid[row(v)][offset+x] = medianMark
	}

	fmt.Fprintln(w, title)
	for i, line := range grid {
		label := ""
		switch i {
		case 0:
			label = fmt.Sprintf("%9.2f", hi)
		case plotHeight - 1:
			label = fmt.Sprintf("%9.2f", lo)
		default:
			label = strings.Repeat(" ", 9)
		}
		fmt.Fprintf(w, "%s |%s\n", label, line)
	}
	fmt.Fprintf(w, "%s +%s forecast ->\n", strings.Repeat(" ", 9), strings.Repeat("-", offset))
}

// Plot renders the learning-rate sweep as loss-vs-lr on a log axis, marking
// the suggested rate.
func (r *LRFindResult) Plot(w io.Writer) {
	if len(r.LRs) == 0 {
		return
	}
	width := len(r.LRs)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range r.Losses {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		hi = lo + 1
	}
	grid := make([][]byte, plotHeight)
	for i := range grid {
		grid[i] = []byte(strings.Repeat(" ", width))
	}
	suggestion := r.Suggestion()
	for x, v := range r.Losses {
		y := int((hi - v) / (hi - lo) * float64(plotHeight-1))
		grid[y][x] = historyMark
		if r.LRs[x] == suggestion {
			grid[y][x] = medianMark
		}
	}
	fmt.Fprintf(w, "lr range test: lr=%.2g..%.2g suggestion=%.4g\n", r.LRs[0], r.LRs[len(r.LRs)-1], suggestion)
	for i, line := range grid {
		label := strings.Repeat(" ", 9)
		switch i {
		case 0:
			label = fmt.Sprintf("%9.3f", hi)
		case plotHeight - 1:
			label = fmt.Sprintf("%9.3f", lo)
		}
		fmt.Fprintf(w, "%s |%s\n", label, line)
	}
	fmt.Fprintf(w, "%s +%s log(lr) ->\n", strings.Repeat(" ", 9), strings.Repeat("-", width))
}
