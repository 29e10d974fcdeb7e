package schema

import "strconv"

// Value is one named attribute before encoding: either a categorical label or
// a number.
type Value struct {
	Label       string
	Number      float64
	Categorical bool
}

func LabelValue(label string) Value {
	return Value{Label: label, Categorical: true}
}

func NumberValue(n float64) Value {
	return Value{Number: n}
}

func (v Value) String() string {
	if v.Categorical {
		return v.Label
	}
	return strconv.FormatFloat(v.Number, 'g', -1, 64)
}
