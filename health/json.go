package health

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/rotisserie/eris"
)

// ErrMalformed marks a payload that is not a JSON object.
var ErrMalformed = eris.New("malformed record payload")

// DecodeJSON parses a JSON object into a Record. Every field must be present
// and no other keys are accepted, so a missing value never defaults to zero.
// Field problems come back as *InvalidInputError.
func DecodeJSON(data []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, eris.Wrap(ErrMalformed, err.Error())
	}

	var unknown []string
	for key := range raw {
		if !isFormField(key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Record{}, NewInvalidInput(unknown[0], "", "unknown field")
	}
	for _, field := range formFields {
		if v, ok := raw[field]; !ok || string(v) == "null" {
			return Record{}, NewInvalidInput(field, "", "is required")
		}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Record{}, NewInvalidInput(typeErr.Field, typeErr.Value, "has the wrong type")
		}
		return Record{}, eris.Wrap(ErrMalformed, err.Error())
	}
	return rec, nil
}

func isFormField(name string) bool {
	for _, f := range formFields {
		if f == name {
			return true
		}
	}
	return false
}
