package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind classifies upstream failures
type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindConnection Kind = "connection"
	KindUpstream   Kind = "upstream"
	KindRequest    Kind = "request"
)

var (
	// ErrTimeout matches any *Error of KindTimeout
	ErrTimeout = errors.New("upstream timeout")
	// ErrConnection matches any *Error of KindConnection
	ErrConnection = errors.New("upstream connection failed")
	// ErrUpstream matches any *Error of KindUpstream
	ErrUpstream = errors.New("upstream returned an error")
	// ErrRequest matches any *Error of KindRequest
	ErrRequest = errors.New("upstream request failed")
)

// Error is a classified failure of an upstream call
type Error struct {
	Kind       Kind
	StatusCode int    // set for KindUpstream
	Body       string // response body or error payload, set for KindUpstream
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUpstream:
		return fmt.Sprintf("upstream API error: %d - %s", e.StatusCode, e.Body)
	case KindTimeout:
		if e.Err != nil {
			return "upstream timeout: " + e.Err.Error()
		}
		return "upstream timeout"
	case KindConnection:
		if e.Err != nil {
			return "upstream connection failed: " + e.Err.Error()
		}
		return "upstream connection failed"
	default:
		if e.Err != nil {
			return "upstream request failed: " + e.Err.Error()
		}
		return "upstream request failed"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrUpstream:
		return e.Kind == KindUpstream
	case ErrRequest:
		return e.Kind == KindRequest
	}
	return false
}

// KindOf returns the kind of err, or "" if err is not an upstream error
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

func timeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Err: err}
}

func statusError(code int, body string) *Error {
	return &Error{Kind: KindUpstream, StatusCode: code, Body: body}
}

// classify maps transport errors onto the upstream taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}

	var ue *Error
	if errors.As(err, &ue) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutError(err)
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindRequest, Err: err}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return timeoutError(err)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF):
		return &Error{Kind: KindConnection, Err: err}
	}

	return &Error{Kind: KindRequest, Err: err}
}
