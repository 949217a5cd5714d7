package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/chatrelay/pkg/session"
	"github.com/harun/chatrelay/pkg/upstream"
)

var (
	ErrNotFound     = session.ErrNotFound
	ErrInvalidInput = session.ErrInvalidInput

	// ErrEmptyResponse is returned when the upstream finished without any content
	ErrEmptyResponse = errors.New("upstream returned no content")

	// ErrHistoryCleared is returned when the session was cleared while a turn was in flight
	ErrHistoryCleared = errors.New("session history was cleared during the turn")

	// ErrNoOutcome is returned when a turn's events ended without a terminal event
	ErrNoOutcome = errors.New("turn ended without a result")
)

// Error kinds reported in error events, in addition to the upstream kinds
const (
	KindEmptyResponse = "empty_response"
	KindCancelled     = "cancelled"
	KindConflict      = "conflict"
)

// Describe maps a turn failure to the kind and message shown to the caller
func Describe(err error) (kind, message string) {
	var ue *upstream.Error
	switch {
	case errors.Is(err, ErrEmptyResponse):
		return KindEmptyResponse, "upstream returned no content (timeout or empty completion), please retry"
	case errors.Is(err, ErrHistoryCleared):
		return KindConflict, "session history was cleared while the reply was streaming"
	case errors.Is(err, context.Canceled):
		return KindCancelled, "request cancelled"
	case errors.As(err, &ue):
		switch ue.Kind {
		case upstream.KindTimeout:
			return string(ue.Kind), "request timed out: the upstream API took too long to respond, please retry or shorten the input"
		case upstream.KindConnection:
			return string(ue.Kind), "connection error: unable to reach the upstream API, check network connectivity"
		case upstream.KindUpstream:
			return string(ue.Kind), fmt.Sprintf("upstream API error: %d - %s", ue.StatusCode, ue.Body)
		default:
			cause := ue.Error()
			if ue.Err != nil {
				cause = ue.Err.Error()
			}
			return string(upstream.KindRequest), "request failed: " + cause
		}
	default:
		return string(upstream.KindRequest), "request failed: " + err.Error()
	}
}
