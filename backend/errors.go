package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedResponse is returned when a backend response cannot be
// decoded into the shape the caller expects.
var ErrMalformedResponse = errors.New("malformed backend response")

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	Code int
	Path string
	Body string
}

func (e *StatusError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("backend error %d", e.Code)
	}
	return fmt.Sprintf("backend error %d on %s", e.Code, e.Path)
}

// IsStatus reports whether err carries a backend status of code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// CheckStatus converts a non-2xx response into *StatusError.
func CheckStatus(path string, resp *Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body := string(resp.Body)
	if len(body) > 256 {
		body = body[:256]
	}
	return &StatusError{Code: resp.StatusCode, Path: path, Body: body}
}

func statusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return "unknown status"
}

// Describe renders a StatusError for humans.
func (e *StatusError) Describe() string {
	return fmt.Sprintf("server error %d (%s)", e.Code, statusText(e.Code))
}
