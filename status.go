package edusentry

import (
	"bytes"
	"database/sql/driver"
	"fmt"
)

// Status records whether an incident is a suspected or confirmed attack.
// Reports start suspected; a source or the extraction may confirm them.
type Status uint

//go:generate stringer -type=Status -linecomment

const (
	StatusSuspected Status = iota // suspected
	StatusConfirmed               // confirmed
)

func (s *Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	// This depends on the contents of status_string.go.
	if i := bytes.Index([]byte(_Status_name), b); i != -1 {
		idx := uint8(i)
		for n, off := range _Status_index {
			if idx == off {
				*s = Status(n)
				return nil
			}
		}
	}
	// A match that lands mid-name is not a real value.
	return fmt.Errorf("unknown status %q", string(b))
}

func (s Status) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *Status) Scan(i interface{}) error {
	switch v := i.(type) {
	case []byte:
		return s.UnmarshalText(v)
	case string:
		return s.UnmarshalText([]byte(v))
	case int64:
		if v >= int64(len(_Status_index)-1) {
			return fmt.Errorf("unable to scan Status from enum %d", v)
		}
		*s = Status(v)
	default:
		return fmt.Errorf("unable to scan Status from type %T", i)
	}
	return nil
}
