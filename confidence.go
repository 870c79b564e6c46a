package edusentry

import (
	"bytes"
	"database/sql/driver"
	"fmt"
)

// Confidence is a source's qualitative confidence that an incident is real.
//
// Values order: a higher Confidence outranks a lower one during merges.
type Confidence uint

//go:generate stringer -type=Confidence -linecomment

const (
	ConfidenceUnknown Confidence = iota // unknown
	ConfidenceLow                       // low
	ConfidenceMedium                    // medium
	ConfidenceHigh                      // high
)

func (c *Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Confidence) UnmarshalText(b []byte) error {
	// This depends on the contents of confidence_string.go.
	if i := bytes.Index([]byte(_Confidence_name), b); i != -1 {
		idx := uint8(i)
		for n, off := range _Confidence_index {
			if idx == off {
				*c = Confidence(n)
				return nil
			}
		}
	}
	// A match that lands mid-name is not a real value.
	return fmt.Errorf("unknown confidence %q", string(b))
}

func (c Confidence) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *Confidence) Scan(i interface{}) error {
	switch v := i.(type) {
	case []byte:
		return c.UnmarshalText(v)
	case string:
		return c.UnmarshalText([]byte(v))
	case int64:
		if v >= int64(len(_Confidence_index)-1) {
			return fmt.Errorf("unable to scan Confidence from enum %d", v)
		}
		*c = Confidence(v)
	default:
		return fmt.Errorf("unable to scan Confidence from type %T", i)
	}
	return nil
}
