package deepargo

import (
	"errors"
	"sort"
)

// LabelEncoder maps categorical string values onto dense int32 ids. Index 0
// is reserved for values never seen during Fit, so the table can encode new
// categories at prediction time without failing.
type LabelEncoder struct {
	classes []string
	index   map[string]int32
}

// NewLabelEncoder returns an empty encoder.
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{index: make(map[string]int32)}
}

// Fit records the distinct values and assigns ids 1..n in sorted order.
// Returns the encoder for chaining.
func (e *LabelEncoder) Fit(values []string) *LabelEncoder {
	seen := make(map[string]bool, len(values))
	e.classes = e.classes[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			e.classes = append(e.classes, v)
		}
	}
	sort.Strings(e.classes)
	e.index = make(map[string]int32, len(e.classes))
	for i, c := range e.classes {
		e.index[c] = int32(i + 1)
	}
	return e
}

// Encode returns the id for v, or 0 for unknown values.
func (e *LabelEncoder) Encode(v string) int32 {
	return e.index[v]
}

// Decode returns the value behind an id.
func (e *LabelEncoder) Decode(id int32) (string, error) {
	if id == 0 {
		return "", errors.New("id 0 is the unknown category")
	}
	if int(id) > len(e.classes) {
		return "", errors.New("id out of range")
	}
	return e.classes[id-1], nil
}

// Cardinality is the embedding table size needed for this encoder, counting
// the unknown slot.
func (e *LabelEncoder) Cardinality() int {
	return len(e.classes) + 1
}
