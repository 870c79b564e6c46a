package edusentry

import (
	"bytes"
	"database/sql/driver"
	"fmt"
)

// InstitutionType is the kind of education-sector organization an incident
// affects.
type InstitutionType uint

//go:generate stringer -type=InstitutionType -linecomment

const (
	InstitutionUnknown   InstitutionType = iota // unknown
	InstitutionUniversity                       // university
	InstitutionSchool                           // school
	InstitutionResearch                         // research-institute
)

func (t *InstitutionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *InstitutionType) UnmarshalText(b []byte) error {
	// This depends on the contents of institutiontype_string.go.
	if i := bytes.Index([]byte(_InstitutionType_name), b); i != -1 {
		idx := uint8(i)
		for n, off := range _InstitutionType_index {
			if idx == off {
				*t = InstitutionType(n)
				return nil
			}
		}
	}
	// A match that lands mid-name is not a real value.
	return fmt.Errorf("unknown institution type %q", string(b))
}

func (t InstitutionType) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *InstitutionType) Scan(i interface{}) error {
	switch v := i.(type) {
	case []byte:
		return t.UnmarshalText(v)
	case string:
		return t.UnmarshalText([]byte(v))
	case int64:
		if v >= int64(len(_InstitutionType_index)-1) {
			return fmt.Errorf("unable to scan InstitutionType from enum %d", v)
		}
		*t = InstitutionType(v)
	default:
		return fmt.Errorf("unable to scan InstitutionType from type %T", i)
	}
	return nil
}
