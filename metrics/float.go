package metrics

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Float is a float64 that survives JSON when it is not finite. NaN and the
// infinities are written as the strings "NaN", "Inf" and "-Inf"; every other
// value is a plain JSON number.
type Float float64

// Float32 is the single-precision counterpart of Float.
type Float32 float32

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) { return marshalFloat(float64(f)) }

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error { return unmarshalFloat(data, (*float64)(f)) }

// MarshalJSON implements json.Marshaler.
func (f Float32) MarshalJSON() ([]byte, error) { return marshalFloat(float32(f)) }

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float32) UnmarshalJSON(data []byte) error { return unmarshalFloat(data, (*float32)(f)) }

// ConvertFloats copies values into a slice of another float type. A nil slice
// stays nil.
func ConvertFloats[D, S ~float32 | ~float64](values []S) []D {
	if values == nil {
		return nil
	}
	out := make([]D, len(values))
	for i, v := range values {
		out[i] = D(v)
	}
	return out
}

func marshalFloat[T float32 | float64](v T) ([]byte, error) {
	switch f := float64(v); {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func unmarshalFloat[T float32 | float64](data []byte, v *T) error {
	if len(data) == 0 || data[0] != '"' {
		return json.Unmarshal(data, v)
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "NaN":
		*v = T(math.NaN())
	case "Inf", "+Inf":
		*v = T(math.Inf(1))
	case "-Inf":
		*v = T(math.Inf(-1))
	default:
		return errors.Errorf("invalid float %s", strconv.Quote(s))
	}
	return nil
}
