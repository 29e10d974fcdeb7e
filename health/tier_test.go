package health

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  RiskTier
	}{
		{"well below", 4.8, TierNormal},
		{"just below lower bound", 5.69999, TierNormal},
		{"lower bound inclusive", 5.7, TierPrediabetes},
		{"middle", 6.0, TierPrediabetes},
		{"upper bound inclusive", 6.4, TierPrediabetes},
		{"just above upper bound", 6.40001, TierDiabetes},
		{"high", 9.0, TierDiabetes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TierFor(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTierForRejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := TierFor(v)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFinite))
	}
}

func TestTierThresholdProperty(t *testing.T) {
	for v := 3.0; v <= 10.0; v += 0.01 {
		tier, err := TierFor(v)
		require.NoError(t, err)
		assert.Equal(t, v < PrediabetesLower, tier == TierNormal, "value %v", v)
		assert.Equal(t, v >= PrediabetesLower && v <= PrediabetesUpper, tier == TierPrediabetes, "value %v", v)
		assert.Equal(t, v > PrediabetesUpper, tier == TierDiabetes, "value %v", v)
	}
}

func TestRiskTierJSON(t *testing.T) {
	payload, err := json.Marshal(TierPrediabetes)
	require.NoError(t, err)
	assert.Equal(t, `"Prediabetes"`, string(payload))

	var tier RiskTier
	require.NoError(t, json.Unmarshal([]byte(`"Diabetes"`), &tier))
	assert.Equal(t, TierDiabetes, tier)

	assert.Error(t, json.Unmarshal([]byte(`"Severe"`), &tier))
}

func TestGuidanceHeadlines(t *testing.T) {
	assert.Contains(t, TierNormal.Guidance().Headline, "normal")
	assert.Contains(t, TierPrediabetes.Guidance().Headline, "prediabetes")
	assert.Contains(t, TierDiabetes.Guidance().Headline, "diabetes")
	assert.NotEmpty(t, TierDiabetes.Guidance().Recommendations)
}
