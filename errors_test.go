package edusentry

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"testing"
)

func ExampleError() {
	fmt.Println(&Error{
		Inner:   nil,
		Kind:    ErrInternal,
		Message: "test",
		Op:      "ExampleError",
	})

	fmt.Println(&Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrInternal,
		Message: "needed incident missing",
		Op:      "Lookup",
	})
	err := &Error{
		Inner: &Error{
			Inner:   sql.ErrNoRows,
			Kind:    ErrInternal,
			Message: "needed incident missing",
			Op:      "Lookup",
		},
		Kind: ErrTransient,
	}
	fmt.Println(err)
	fmt.Println(fmt.Errorf("somepackage: oops: %w", &Error{
		Inner:   sql.ErrNoRows,
		Kind:    ErrInternal,
		Message: "needed incident missing",
		Op:      "Lookup",
	}))

	// Output:
	// ExampleError [internal]: test
	// Lookup [internal]: needed incident missing: sql: no rows in result set
	// Lookup [internal]: needed incident missing: sql: no rows in result set
	// somepackage: oops: Lookup [internal]: needed incident missing: sql: no rows in result set
}

type kindTestcase struct {
	Err       error
	Permanent bool
	Transient bool
	RateLimit bool
}

func (tc kindTestcase) Run(t *testing.T) {
	t.Log(tc.Err)
	if got, want := errors.Is(tc.Err, ErrPermanent), tc.Permanent; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrPermanent, got, want)
	}
	if got, want := errors.Is(tc.Err, ErrTransient), tc.Transient; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrTransient, got, want)
	}
	if got, want := errors.Is(tc.Err, ErrRateLimit), tc.RateLimit; got != want {
		t.Errorf("%v: got: %v, want: %v", ErrRateLimit, got, want)
	}
}

func TestErrorKinds(t *testing.T) {
	tt := []kindTestcase{
		// 0: Permanent
		{
			Err: &Error{
				Inner: errors.New("permanent"),
				Kind:  ErrPermanent,
			},
			Permanent: true,
		},
		// 1: Transient
		{
			Err: &Error{
				Inner: errors.New("transient"),
				Kind:  ErrTransient,
			},
			Transient: true,
		},
		// 2: Rate limit surfaced through wrapping
		{
			Err: fmt.Errorf("consumer halt: %w", &Error{
				Inner: errors.New("429"),
				Kind:  ErrRateLimit,
			}),
			RateLimit: true,
		},
		// 3: Nested kinds are both visible
		{
			Err: &Error{
				Kind: ErrTransient,
				Inner: &Error{
					Inner: errors.New("confused"),
					Kind:  ErrPermanent,
				},
			},
			Permanent: true,
			Transient: true,
		},
	}

	for i, tc := range tt {
		t.Run(strconv.Itoa(i), tc.Run)
	}
}
