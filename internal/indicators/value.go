package indicators

import (
	"encoding/json"
	"strconv"
)

// Value is an indicator reading that stays undefined until warm-up completes.
type Value struct {
	V     float64
	Valid bool
}

// Defined wraps a computed reading.
func Defined(v float64) Value { return Value{V: v, Valid: true} }

// MarshalJSON renders undefined readings as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

// UnmarshalJSON accepts a number or null.
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}

func (v Value) String() string {
	if !v.Valid {
		return "undefined"
	}
	return strconv.FormatFloat(v.V, 'f', 5, 64)
}
