package resilience

import (
	"context"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient wrapper", NewTransientError(eris.New("x"), 503), true},
		{"wrapped transient", fmt.Errorf("outer: %w", NewTransientError(eris.New("x"), 0)), true},
		{"plain error", eris.New("nope"), false},
		{"conn reset errno", syscall.ECONNRESET, true},
		{"conn refused errno", syscall.ECONNREFUSED, true},
		{"reset text", eris.New("read tcp: connection reset by peer"), true},
		{"dns text", eris.New("dial tcp: lookup example.com: no such host"), true},
		{"io timeout text", eris.New("request failed: i/o timeout"), true},
		{"context canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestThrottled(t *testing.T) {
	t.Parallel()

	assert.True(t, Throttled(NewTransientError(eris.New("slow down"), 429)))
	assert.False(t, Throttled(NewTransientError(eris.New("oops"), 503)))
	assert.False(t, Throttled(eris.New("plain")))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := eris.New("inner")
	te := NewTransientError(inner, 500)
	assert.Equal(t, "inner", te.Error())
	assert.Equal(t, inner, te.Unwrap())
}
