package deepargo

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// CSVOptions holds options for loading a panel from long-format CSV, one row
// per observation.
type CSVOptions struct {
	SeriesColumn string // column with the series identifier (default "series")
	ValueColumn  string // column with the observation (default "value")
	StaticColumn string // column with the static category (optional)
	Delimiter    rune   // field delimiter (default ',')
}

// DefaultCSVOptions returns the defaults for LoadCSV.
func DefaultCSVOptions() *CSVOptions {
	return &CSVOptions{
		SeriesColumn: "series",
		ValueColumn:  "value",
		Delimiter:    ',',
	}
}

// LoadCSV loads a panel from a CSV file.
func LoadCSV(filename string, opts *CSVOptions) (Panel, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSVFromReader(f, opts)
}

// LoadCSVFromReader loads a panel from an io.Reader. Rows must be grouped or
// at least ordered by time within each series; observations are appended in
// row order.
func LoadCSVFromReader(r io.Reader, opts *CSVOptions) (Panel, error) {
	if opts == nil {
		opts = DefaultCSVOptions()
	}
	reader := csv.NewReader(r)
	reader.Comma = opts.Delimiter
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	seriesIdx, valueIdx, staticIdx := -1, -1, -1
	for i, col := range header {
		switch col {
		case opts.SeriesColumn:
			seriesIdx = i
		case opts.ValueColumn:
			valueIdx = i
		case opts.StaticColumn:
			staticIdx = i
		}
	}
	if seriesIdx < 0 {
		return nil, fmt.Errorf("series column %q not found", opts.SeriesColumn)
	}
	if valueIdx < 0 {
		return nil, fmt.Errorf("value column %q not found", opts.ValueColumn)
	}

	var panel Panel
	byID := make(map[string]*Series)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		id := record[seriesIdx]
		v, err := strconv.ParseFloat(record[valueIdx], 64)
		if err != nil {
			return nil, fmt.Errorf("series %s: parse value %q: %w", id, record[valueIdx], err)
		}
		s, ok := byID[id]
		if !ok {
			s = &Series{ID: id}
			if staticIdx >= 0 {
				s.Static = record[staticIdx]
			}
			byID[id] = s
			panel = append(panel, s)
		}
		s.Values = append(s.Values, v)
	}
	if len(panel) == 0 {
		return nil, errors.New("no observations in CSV")
	}
	return panel, nil
}
