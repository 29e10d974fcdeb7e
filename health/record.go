// Package health defines the subject record submitted for an HbA1c estimate
// and the clinical risk tiers the estimate maps to.
package health

import (
	"fmt"
	"math"

	"glucosense/schema"
)

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// Genders lists the accepted gender labels in form order.
func Genders() []Gender {
	return []Gender{GenderMale, GenderFemale, GenderOther}
}

type SmokingHistory string

const (
	SmokingNever      SmokingHistory = "never"
	SmokingFormer     SmokingHistory = "former"
	SmokingCurrent    SmokingHistory = "current"
	SmokingNotCurrent SmokingHistory = "not current"
	SmokingEver       SmokingHistory = "ever"
	SmokingNoInfo     SmokingHistory = "No Info"
)

// SmokingHistories lists the accepted smoking history labels in form order.
func SmokingHistories() []SmokingHistory {
	return []SmokingHistory{SmokingNever, SmokingFormer, SmokingCurrent, SmokingNotCurrent, SmokingEver, SmokingNoInfo}
}

// Domain bounds, inclusive.
const (
	MinAge          = 0
	MaxAge          = 120
	MinBMI          = 10.0
	MaxBMI          = 60.0
	MinBloodGlucose = 0.0
	MaxBloodGlucose = 500.0
)

// Record is one subject's attributes. It is comparable so it can key caches.
type Record struct {
	Gender            Gender         `json:"gender"`
	Age               int            `json:"age"`
	SmokingHistory    SmokingHistory `json:"smoking_history"`
	BMI               float64        `json:"bmi"`
	Hypertension      int            `json:"hypertension"`
	HeartDisease      int            `json:"heart_disease"`
	BloodGlucoseLevel float64        `json:"blood_glucose_level"`
}

// Validate returns an *InvalidInputError for the first field outside its domain.
func (r Record) Validate() error {
	if !oneOf(r.Gender, Genders()) {
		return invalid(schema.ColumnGender, string(r.Gender), "must be one of Male, Female, Other")
	}
	if r.Age < MinAge || r.Age > MaxAge {
		return invalid(schema.ColumnAge, r.Age, fmt.Sprintf("must be between %d and %d", MinAge, MaxAge))
	}
	if !oneOf(r.SmokingHistory, SmokingHistories()) {
		return invalid(schema.ColumnSmokingHistory, string(r.SmokingHistory), "must be one of never, former, current, not current, ever, No Info")
	}
	if !inRange(r.BMI, MinBMI, MaxBMI) {
		return invalid(schema.ColumnBMI, r.BMI, fmt.Sprintf("must be between %.1f and %.1f", MinBMI, MaxBMI))
	}
	if r.Hypertension != 0 && r.Hypertension != 1 {
		return invalid(schema.ColumnHypertension, r.Hypertension, "must be 0 or 1")
	}
	if r.HeartDisease != 0 && r.HeartDisease != 1 {
		return invalid(schema.ColumnHeartDisease, r.HeartDisease, "must be 0 or 1")
	}
	if !inRange(r.BloodGlucoseLevel, MinBloodGlucose, MaxBloodGlucose) {
		return invalid(schema.ColumnBloodGlucoseLevel, r.BloodGlucoseLevel, fmt.Sprintf("must be between %.1f and %.1f", MinBloodGlucose, MaxBloodGlucose))
	}
	return nil
}

// Attributes returns the record keyed by dataset column name.
func (r Record) Attributes() map[string]schema.Value {
	return map[string]schema.Value{
		schema.ColumnGender:            schema.LabelValue(string(r.Gender)),
		schema.ColumnAge:               schema.NumberValue(float64(r.Age)),
		schema.ColumnSmokingHistory:    schema.LabelValue(string(r.SmokingHistory)),
		schema.ColumnBMI:               schema.NumberValue(r.BMI),
		schema.ColumnHypertension:      schema.NumberValue(float64(r.Hypertension)),
		schema.ColumnHeartDisease:      schema.NumberValue(float64(r.HeartDisease)),
		schema.ColumnBloodGlucoseLevel: schema.NumberValue(r.BloodGlucoseLevel),
	}
}

func oneOf[T comparable](v T, allowed []T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func inRange(v, lo, hi float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= lo && v <= hi
}
