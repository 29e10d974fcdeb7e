package health

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// Tier boundaries in HbA1c percent. Prediabetes is inclusive on both ends.
const (
	PrediabetesLower = 5.7
	PrediabetesUpper = 6.4
)

type RiskTier int

const (
	TierNormal RiskTier = iota
	TierPrediabetes
	TierDiabetes
)

var ErrNotFinite = eris.New("hba1c value is not finite")

// TierFor maps an HbA1c estimate to its risk tier.
func TierFor(hba1c float64) (RiskTier, error) {
	if math.IsNaN(hba1c) || math.IsInf(hba1c, 0) {
		return TierNormal, eris.Wrapf(ErrNotFinite, "value %v", hba1c)
	}
	switch {
	case hba1c < PrediabetesLower:
		return TierNormal, nil
	case hba1c <= PrediabetesUpper:
		return TierPrediabetes, nil
	default:
		return TierDiabetes, nil
	}
}

func (t RiskTier) String() string {
	switch t {
	case TierNormal:
		return "Normal"
	case TierPrediabetes:
		return "Prediabetes"
	case TierDiabetes:
		return "Diabetes"
	default:
		return "Unknown"
	}
}

func (t RiskTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *RiskTier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "Normal":
		*t = TierNormal
	case "Prediabetes":
		*t = TierPrediabetes
	case "Diabetes":
		*t = TierDiabetes
	default:
		return eris.Errorf("unknown risk tier %q", s)
	}
	return nil
}

// Guidance is the interpretation shown alongside an estimate.
type Guidance struct {
	Headline        string   `json:"headline"`
	Recommendations []string `json:"recommendations"`
}

func (t RiskTier) Guidance() Guidance {
	switch t {
	case TierNormal:
		return Guidance{
			Headline: "Your HbA1c is in the normal range (below 5.7%)",
			Recommendations: []string{
				"Continue maintaining your healthy lifestyle",
				"Regular exercise and balanced diet are important",
				"Schedule routine check-ups",
			},
		}
	case TierPrediabetes:
		return Guidance{
			Headline: "Your HbA1c suggests prediabetes (5.7% - 6.4%)",
			Recommendations: []string{
				"Consider lifestyle modifications",
				"Consult with a healthcare provider",
				"Monitor your blood glucose regularly",
				"Focus on diet and exercise",
			},
		}
	default:
		return Guidance{
			Headline: "Your HbA1c suggests diabetes (6.5% or higher)",
			Recommendations: []string{
				"Schedule an appointment with your doctor",
				"This is not a diagnosis, but requires medical attention",
				"Bring these results to your healthcare provider",
				"Regular monitoring and medical supervision is important",
			},
		}
	}
}
