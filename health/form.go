package health

import (
	"strconv"
	"strings"

	"glucosense/schema"
)

var formFields = []string{
	schema.ColumnGender,
	schema.ColumnAge,
	schema.ColumnSmokingHistory,
	schema.ColumnBMI,
	schema.ColumnHypertension,
	schema.ColumnHeartDisease,
	schema.ColumnBloodGlucoseLevel,
}

// ParseForm builds a Record from submitted form fields. All fields are
// required; the yes/no questions accept Yes/No as well as 1/0. The result is
// not validated against the domain bounds.
func ParseForm(values map[string]string) (Record, error) {
	for _, field := range formFields {
		if strings.TrimSpace(values[field]) == "" {
			return Record{}, NewInvalidInput(field, "", "is required")
		}
	}

	var rec Record
	rec.Gender = Gender(strings.TrimSpace(values[schema.ColumnGender]))
	rec.SmokingHistory = SmokingHistory(strings.TrimSpace(values[schema.ColumnSmokingHistory]))

	age, err := strconv.Atoi(strings.TrimSpace(values[schema.ColumnAge]))
	if err != nil {
		return Record{}, NewInvalidInput(schema.ColumnAge, values[schema.ColumnAge], "must be a whole number")
	}
	rec.Age = age

	if rec.BMI, err = parseFloat(values, schema.ColumnBMI); err != nil {
		return Record{}, err
	}
	if rec.BloodGlucoseLevel, err = parseFloat(values, schema.ColumnBloodGlucoseLevel); err != nil {
		return Record{}, err
	}
	if rec.Hypertension, err = parseFlag(values, schema.ColumnHypertension); err != nil {
		return Record{}, err
	}
	if rec.HeartDisease, err = parseFlag(values, schema.ColumnHeartDisease); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func parseFloat(values map[string]string, field string) (float64, error) {
	raw := strings.TrimSpace(values[field])
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, NewInvalidInput(field, raw, "must be a number")
	}
	return v, nil
}

func parseFlag(values map[string]string, field string) (int, error) {
	raw := strings.TrimSpace(values[field])
	switch strings.ToLower(raw) {
	case "1", "yes":
		return 1, nil
	case "0", "no":
		return 0, nil
	}
	return 0, NewInvalidInput(field, raw, "must be Yes or No")
}
