// Package schema holds the training-time contract shared with the serving side:
// the ordered feature list, the categorical encodings and the artifact that
// persists both.
package schema

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Column names of the diabetes prediction dataset.
const (
	ColumnGender            = "gender"
	ColumnAge               = "age"
	ColumnHypertension      = "hypertension"
	ColumnHeartDisease      = "heart_disease"
	ColumnSmokingHistory    = "smoking_history"
	ColumnBMI               = "bmi"
	ColumnBloodGlucoseLevel = "blood_glucose_level"
	ColumnTarget            = "HbA1c_level"
	ColumnDiabetes          = "diabetes"
)

var (
	ErrSchemaMismatch = eris.New("record fields do not match feature schema")
	ErrInvalidSchema  = eris.New("invalid feature schema")
)

// FeatureSchema is the ordered list of feature names a model was trained on.
// The model consumes positional vectors, so this order is authoritative.
type FeatureSchema struct {
	names []string
	index map[string]int
}

// NewFeatureSchema builds a schema from names in model column order.
func NewFeatureSchema(names []string) (FeatureSchema, error) {
	if len(names) == 0 {
		return FeatureSchema{}, eris.Wrap(ErrInvalidSchema, "no features")
	}
	index := make(map[string]int, len(names))
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return FeatureSchema{}, eris.Wrapf(ErrInvalidSchema, "empty feature name at position %d", i)
		}
		if _, dup := index[name]; dup {
			return FeatureSchema{}, eris.Wrapf(ErrInvalidSchema, "duplicate feature %q", name)
		}
		index[name] = i
	}
	return FeatureSchema{names: append([]string(nil), names...), index: index}, nil
}

// MustFeatureSchema is NewFeatureSchema for static name lists.
func MustFeatureSchema(names ...string) FeatureSchema {
	fs, err := NewFeatureSchema(names)
	if err != nil {
		panic(err)
	}
	return fs
}

func (fs FeatureSchema) Names() []string {
	return append([]string(nil), fs.names...)
}

func (fs FeatureSchema) Len() int {
	return len(fs.names)
}

func (fs FeatureSchema) Index(name string) (int, bool) {
	i, ok := fs.index[name]
	return i, ok
}

func (fs FeatureSchema) Equal(other FeatureSchema) bool {
	if len(fs.names) != len(other.names) {
		return false
	}
	for i := range fs.names {
		if fs.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

// CheckFields reports whether names is exactly the schema's feature set,
// ignoring order.
func (fs FeatureSchema) CheckFields(names []string) error {
	seen := make(map[string]bool, len(names))
	var unexpected []string
	for _, name := range names {
		seen[name] = true
		if _, ok := fs.index[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	var missing []string
	for _, name := range fs.names {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	sort.Strings(unexpected)
	return eris.Wrapf(ErrSchemaMismatch, "missing %v, unexpected %v", missing, unexpected)
}

func (fs FeatureSchema) MarshalJSON() ([]byte, error) {
	if fs.names == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(fs.names)
}

func (fs *FeatureSchema) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return eris.Wrap(err, "decode feature schema")
	}
	parsed, err := NewFeatureSchema(names)
	if err != nil {
		return err
	}
	*fs = parsed
	return nil
}
