package edusentry

import (
	"bytes"
	"database/sql/driver"
	"fmt"
)

// DatePrecision records how much of an incident date is meaningful.
type DatePrecision uint

//go:generate stringer -type=DatePrecision -linecomment

const (
	PrecisionUnknown DatePrecision = iota // unknown
	PrecisionDay                          // day
	PrecisionMonth                        // month
	PrecisionYear                         // year
)

func (p *DatePrecision) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *DatePrecision) UnmarshalText(b []byte) error {
	// This depends on the contents of dateprecision_string.go.
	if i := bytes.Index([]byte(_DatePrecision_name), b); i != -1 {
		idx := uint8(i)
		for n, off := range _DatePrecision_index {
			if idx == off {
				*p = DatePrecision(n)
				return nil
			}
		}
	}
	// A match that lands mid-name is not a real value.
	return fmt.Errorf("unknown date precision %q", string(b))
}

func (p DatePrecision) Value() (driver.Value, error) {
	return p.String(), nil
}

func (p *DatePrecision) Scan(i interface{}) error {
	switch v := i.(type) {
	case []byte:
		return p.UnmarshalText(v)
	case string:
		return p.UnmarshalText([]byte(v))
	case int64:
		if v >= int64(len(_DatePrecision_index)-1) {
			return fmt.Errorf("unable to scan DatePrecision from enum %d", v)
		}
		*p = DatePrecision(v)
	default:
		return fmt.Errorf("unable to scan DatePrecision from type %T", i)
	}
	return nil
}
