package schema

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var datasetFeatures = []string{
	ColumnGender, ColumnAge, ColumnHypertension, ColumnHeartDisease,
	ColumnSmokingHistory, ColumnBMI, ColumnBloodGlucoseLevel,
}

func TestNewFeatureSchema(t *testing.T) {
	fs, err := NewFeatureSchema(datasetFeatures)
	require.NoError(t, err)
	assert.Equal(t, 7, fs.Len())

	idx, ok := fs.Index(ColumnSmokingHistory)
	require.True(t, ok)
	assert.Equal(t, 4, idx)

	_, err = NewFeatureSchema(nil)
	assert.True(t, eris.Is(err, ErrInvalidSchema))
	_, err = NewFeatureSchema([]string{"age", "age"})
	assert.True(t, eris.Is(err, ErrInvalidSchema))
}

func TestFeatureSchemaNamesIsCopy(t *testing.T) {
	fs := MustFeatureSchema("a", "b")
	names := fs.Names()
	names[0] = "z"
	assert.Equal(t, []string{"a", "b"}, fs.Names())
}

func TestCheckFields(t *testing.T) {
	fs := MustFeatureSchema(datasetFeatures...)

	shuffled := []string{
		ColumnBloodGlucoseLevel, ColumnSmokingHistory, ColumnGender, ColumnBMI,
		ColumnAge, ColumnHeartDisease, ColumnHypertension,
	}
	assert.NoError(t, fs.CheckFields(shuffled))

	err := fs.CheckFields(shuffled[1:])
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSchemaMismatch))
	assert.Contains(t, err.Error(), ColumnBloodGlucoseLevel)

	err = fs.CheckFields(append(shuffled, "insulin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insulin")
}

func TestFeatureSchemaJSON(t *testing.T) {
	fs := MustFeatureSchema(datasetFeatures...)
	payload, err := json.Marshal(fs)
	require.NoError(t, err)

	var decoded FeatureSchema
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.True(t, fs.Equal(decoded))

	assert.Error(t, json.Unmarshal([]byte(`["a","a"]`), &decoded))
}

func TestDefaultEncodings(t *testing.T) {
	table := DefaultEncodings()

	want := map[string]map[string]float64{
		ColumnSmokingHistory: {"never": 0, "No Info": 1, "current": 2, "former": 3, "ever": 4, "not current": 5},
		ColumnGender:         {"Female": 0, "Male": 1, "Other": 2},
	}
	for col, labels := range want {
		for label, code := range labels {
			got, err := table.Encode(col, label)
			require.NoError(t, err)
			assert.Equal(t, code, got, "%s=%s", col, label)
		}
	}

	_, err := table.Encode(ColumnGender, "female")
	assert.True(t, eris.Is(err, ErrUnknownLabel))
	_, err = table.Encode(ColumnAge, "45")
	assert.True(t, eris.Is(err, ErrUnknownLabel))

	assert.Equal(t, []string{"Female", "Male", "Other"}, table.Labels(ColumnGender))
	assert.Equal(t, []string{ColumnGender, ColumnSmokingHistory}, table.Columns())
}

func TestFitLabelEncoding(t *testing.T) {
	codes := FitLabelEncoding([]string{"never", "No Info", "current", "former", "ever", "not current", "never"})
	assert.Equal(t, map[string]int{
		"No Info":     0,
		"current":     1,
		"ever":        2,
		"former":      3,
		"never":       4,
		"not current": 5,
	}, codes)
}

func TestArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "features.json")
	a := &Artifact{
		Version:   ArtifactVersion,
		RunID:     "run-1",
		ModelType: "random_forest",
		Target:    ColumnTarget,
		Features:  MustFeatureSchema(datasetFeatures...),
		Encodings: DefaultEncodings(),
		TrainedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, a.Save(path))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.True(t, a.Features.Equal(loaded.Features))
	assert.Equal(t, a.Encodings, loaded.Encodings)
	assert.Equal(t, a.RunID, loaded.RunID)
	assert.True(t, a.TrainedAt.Equal(loaded.TrainedAt))
}

func TestArtifactValidate(t *testing.T) {
	a := &Artifact{
		Version:   ArtifactVersion,
		Features:  MustFeatureSchema(ColumnAge, ColumnBMI),
		Encodings: DefaultEncodings(),
	}
	err := a.Validate()
	assert.True(t, eris.Is(err, ErrInvalidSchema), "encoding for a non-feature column must be rejected")

	a.Encodings = EncodingTable{}
	a.Version = 99
	assert.Error(t, a.Validate())

	a.Version = ArtifactVersion
	a.Encodings = EncodingTable{ColumnAge: {"a": 0, "b": 0}}
	a.Features = MustFeatureSchema(ColumnAge)
	assert.Error(t, a.Validate())
}

func TestLoadArtifactMissingFile(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
