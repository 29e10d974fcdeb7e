package schema

import (
	"sort"

	"github.com/rotisserie/eris"
)

var ErrUnknownLabel = eris.New("unknown categorical label")

// EncodingTable maps categorical column -> label -> integer code.
type EncodingTable map[string]map[string]int

// DefaultEncodings is the pinned table used for the dataset's categorical
// columns. Training uses it unless fitted encodings are requested, and it is
// persisted with the schema either way.
func DefaultEncodings() EncodingTable {
	return EncodingTable{
		ColumnSmokingHistory: {
			"never":       0,
			"No Info":     1,
			"current":     2,
			"former":      3,
			"ever":        4,
			"not current": 5,
		},
		ColumnGender: {
			"Female": 0,
			"Male":   1,
			"Other":  2,
		},
	}
}

// FitLabelEncoding assigns codes 0..n-1 to the distinct labels in byte order,
// the same ordering a default label encoder produces.
func FitLabelEncoding(labels []string) map[string]int {
	distinct := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		distinct[label] = struct{}{}
	}
	sorted := make([]string, 0, len(distinct))
	for label := range distinct {
		sorted = append(sorted, label)
	}
	sort.Strings(sorted)
	codes := make(map[string]int, len(sorted))
	for i, label := range sorted {
		codes[label] = i
	}
	return codes
}

func (t EncodingTable) Has(column string) bool {
	_, ok := t[column]
	return ok
}

// Encode looks up the code of label in column.
func (t EncodingTable) Encode(column, label string) (float64, error) {
	mapping, ok := t[column]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownLabel, "column %q is not categorical", column)
	}
	code, ok := mapping[label]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownLabel, "%s=%q", column, label)
	}
	return float64(code), nil
}

// Columns returns the categorical column names, sorted.
func (t EncodingTable) Columns() []string {
	cols := make([]string, 0, len(t))
	for col := range t {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Labels returns the labels of column ordered by code.
func (t EncodingTable) Labels(column string) []string {
	mapping := t[column]
	labels := make([]string, 0, len(mapping))
	for label := range mapping {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return mapping[labels[i]] < mapping[labels[j]]
	})
	return labels
}

// Clone returns a deep copy.
func (t EncodingTable) Clone() EncodingTable {
	out := make(EncodingTable, len(t))
	for col, mapping := range t {
		m := make(map[string]int, len(mapping))
		for label, code := range mapping {
			m[label] = code
		}
		out[col] = m
	}
	return out
}

func (t EncodingTable) validate() error {
	for col, mapping := range t {
		if len(mapping) == 0 {
			return eris.Wrapf(ErrInvalidSchema, "encoding for %q is empty", col)
		}
		used := make(map[int]string, len(mapping))
		for label, code := range mapping {
			if prev, dup := used[code]; dup {
				return eris.Wrapf(ErrInvalidSchema, "encoding for %q maps %q and %q to %d", col, prev, label, code)
			}
			used[code] = label
		}
	}
	return nil
}
