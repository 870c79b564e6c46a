// Package httputil holds the HTTP response plumbing shared by the fetcher
// and the source adapters.
package httputil

import (
	"fmt"
	"io"
	"net/http"
)

// StatusError reports a response with an unacceptable status code. The code
// is kept so callers can react to specific statuses; the rate limiter cares
// about 403 in particular.
type StatusError struct {
	Code    int
	Status  string
	Excerpt string
}

func (e *StatusError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("unexpected status code: %s", e.Status)
	}
	return fmt.Sprintf("unexpected status code: %s (body starts: %q)", e.Status, e.Excerpt)
}

// CheckResponse takes a http.Response and a variadic of ints representing
// acceptable http status codes. The returned error is a *StatusError that
// attempts to include some content from the server's response.
func CheckResponse(resp *http.Response, acceptableCodes ...int) error {
	for _, code := range acceptableCodes {
		if resp.StatusCode == code {
			return nil
		}
	}
	se := StatusError{
		Code:   resp.StatusCode,
		Status: resp.Status,
	}
	if b, err := io.ReadAll(io.LimitReader(resp.Body, 256)); err == nil {
		se.Excerpt = string(b)
	}
	return &se
}
