package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/djlord-it/arc-companion/internal/circuitbreaker"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o wait exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyStatus_Codes(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, StatusClass2xx},
		{299, StatusClass2xx},
		{404, StatusClass4xx},
		{429, StatusClass4xx},
		{500, StatusClass5xx},
		{503, StatusClass5xx},
		{304, StatusClassOtherError},
		{0, StatusClassOtherError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			if got := ClassifyStatus(tt.code, nil); got != tt.want {
				t.Errorf("ClassifyStatus(%d, nil) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus_Errors(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"wrapped circuit open", fmt.Errorf("arcs: %w", circuitbreaker.ErrCircuitOpen), StatusClassCircuitOpen},
		{"context deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), StatusClassTimeout},
		{"net timeout", fmt.Errorf("send: %w", timeoutError{}), StatusClassTimeout},
		{"op error", fmt.Errorf("send: %w", dialErr), StatusClassConnectionError},
		{"timeout text", errors.New("Client.Timeout exceeded while awaiting headers"), StatusClassTimeout},
		{"no such host text", errors.New("lookup api.example: no such host"), StatusClassConnectionError},
		{"decode failure", errors.New("decode: unexpected EOF"), StatusClassOtherError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// status code is ignored once an error is present
			if got := ClassifyStatus(200, tt.err); got != tt.want {
				t.Errorf("ClassifyStatus(200, %v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
