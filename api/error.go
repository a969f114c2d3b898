package api

import (
	"fmt"
	"net/http"
)

// Error is the JSON error body returned by the marketplace API.
type Error struct {
	// HTTP status code, such as 404.
	Code int `json:"code"`

	// The text of the error as reported upstream.
	Message string `json:"msg"`
}

// Error implements the standard error interface.
func (e Error) Error() string {
	return e.Message
}

// Format implements the fmt.Formatter interface.
func (e Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		fmt.Fprint(s, e.Message)
	case 'q':
		fmt.Fprintf(s, "%q", e.Message)
	}
}

// IsNotFound reports whether an error is a marketplace 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(Error)
	return ok && apiErr.Code == http.StatusNotFound
}

// IsRetriable reports whether an error is worth retrying: rate limits and
// server-side failures are transient, other client errors are permanent.
func IsRetriable(err error) bool {
	apiErr, ok := err.(Error)
	if !ok {
		// Transport-level errors (connection refused, timeout, EOF) are
		// assumed transient.
		return true
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
}
