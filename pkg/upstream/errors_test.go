package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), KindTimeout},
		{"cancelled", context.Canceled, KindRequest},
		{"net timeout", timeoutNetError{}, KindTimeout},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, KindConnection},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, KindConnection},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindConnection},
		{"unexpected eof", io.ErrUnexpectedEOF, KindConnection},
		{"other", errors.New("boom"), KindRequest},
		{"already classified", statusError(502, "bad gateway"), KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(classify(tt.err)))
		})
	}

	assert.Nil(t, classify(nil))
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("turn failed: %w", &Error{Kind: KindTimeout, Err: context.DeadlineExceeded})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrConnection)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
