// Package problem carries the user-facing error taxonomy. Commands fail with a
// Problem; the HTTP layer renders it as an RFC 9457 application/problem+json
// response.
package problem

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Problem implements https://www.rfc-editor.org/rfc/rfc9457.html.
type Problem struct {
	err       error
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Status    int       `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Instance  string    `json:"instance,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func New(status int, title string) Problem {
	return Problem{
		Type:      "about:blank",
		Title:     title,
		Status:    status,
		Timestamp: time.Now(),
	}
}

func Newf(status int, title string, format string, args ...any) Problem {
	prob := New(status, title)
	prob.Detail = fmt.Sprintf(format, args...)

	return prob
}

// Wrap attaches an underlying cause which is logged but never serialized.
func Wrap(status int, title string, err error) Problem {
	prob := New(status, title)
	prob.err = err

	return prob
}

func (p Problem) Error() string {
	if p.err != nil {
		return p.err.Error()
	}

	return p.Title
}

func (p Problem) Unwrap() error {
	return p.err
}

func (p Problem) WithData(data any) Problem {
	p.Data = data

	return p
}

func (p Problem) WithInstance(instance string) Problem {
	p.Instance = instance

	return p
}

// Common taxonomy constructors.

func Validation(title string) Problem {
	return New(http.StatusBadRequest, title)
}

func NotLoggedIn() Problem {
	return New(http.StatusUnauthorized, "Not logged in")
}

// InsufficientPermission keeps the historical 401 status for forbidden actions.
func InsufficientPermission() Problem {
	return New(http.StatusUnauthorized, "Insufficient permission")
}

func NotFound(title string) Problem {
	return New(http.StatusNotFound, title)
}

func Conflict(title string) Problem {
	return New(http.StatusConflict, title)
}

func RateLimited(retryAfter time.Duration) Problem {
	return Newf(http.StatusTooManyRequests, "Rate limited", "Retry after %d seconds", int(retryAfter.Seconds()))
}

func External(title string, err error) Problem {
	return Wrap(http.StatusInternalServerError, title, err)
}

// As extracts a Problem from an error chain.
func As(err error) (Problem, bool) {
	var prob Problem
	if errors.As(err, &prob) {
		return prob, true
	}

	return Problem{}, false
}
