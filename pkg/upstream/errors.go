package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a response body that is not JSON.
	ErrorClassDecode ErrorClass = "decode"
)

// ErrDisabled is returned by Fetch when the dependency is switched off.
var ErrDisabled = errors.New("upstream disabled")

// HTTPError is an upstream failure with its classification.
type HTTPError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		// Transient even though they are 4xx.
		return ErrorClassServer
	case status >= 400 && status < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// shouldRetry reports whether err is worth another attempt.
// Client errors and undecodable bodies fail fast.
func shouldRetry(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return true
	}
	switch he.Class {
	case ErrorClassClient, ErrorClassDecode:
		return false
	default:
		return true
	}
}
