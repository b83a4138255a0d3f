package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", MarkTransient(errors.New("x"), 429), true},
		{"marked through eris", eris.Wrap(MarkTransient(errors.New("x"), 503), "engine"), true},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"pattern", errors.New("write tcp: broken pipe"), true},
		{"permanent", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMarkTransient_Nil(t *testing.T) {
	if MarkTransient(nil, 500) != nil {
		t.Error("MarkTransient(nil) should be nil")
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := MarkTransient(inner, 502)
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to reach the inner error")
	}
	var te *TransientError
	if !errors.As(err, &te) || te.StatusCode != 502 {
		t.Errorf("expected TransientError with status 502, got %v", err)
	}
}

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		if !TransientStatus(code) {
			t.Errorf("TransientStatus(%d) = false, want true", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if TransientStatus(code) {
			t.Errorf("TransientStatus(%d) = true, want false", code)
		}
	}
}
