package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llm.Kind
	}{
		{"transient", llm.Transient("p", errors.New("x")), llm.KindTransient},
		{"validation", llm.Validation("p", errors.New("x")), llm.KindValidation},
		{"fatal", llm.Fatal("p", errors.New("x")), llm.KindFatal},
		{"wrapped transient", fmt.Errorf("batch: %w", llm.Transient("p", errors.New("x"))), llm.KindTransient},
		{"deadline", context.DeadlineExceeded, llm.KindTransient},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, llm.KindTransient},
		{"unavailable sentinel", llm.ErrProviderUnavailable, llm.KindTransient},
		{"plain", errors.New("boom"), llm.KindFatal},
		{"canceled", context.Canceled, llm.KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, llm.IsRetryable(nil))
	assert.True(t, llm.IsRetryable(llm.Transient("p", errors.New("x"))))
	assert.False(t, llm.IsRetryable(llm.Validation("p", errors.New("x"))))
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   llm.Kind
		is     error
	}{
		{http.StatusTooManyRequests, llm.KindTransient, llm.ErrProviderUnavailable},
		{http.StatusBadGateway, llm.KindTransient, llm.ErrProviderUnavailable},
		{http.StatusServiceUnavailable, llm.KindTransient, llm.ErrProviderUnavailable},
		{http.StatusUnauthorized, llm.KindValidation, llm.ErrRejected},
		{http.StatusBadRequest, llm.KindValidation, llm.ErrRejected},
		{http.StatusFound, llm.KindFatal, llm.ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := llm.FromStatus("openai", tt.status, []byte(`{"error":"x"}`))
			assert.Equal(t, tt.want, llm.KindOf(err))
			assert.ErrorIs(t, err, tt.is)
			assert.Contains(t, err.Error(), "openai")
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "transient", llm.KindTransient.String())
	assert.Equal(t, "validation", llm.KindValidation.String())
	assert.Equal(t, "fatal", llm.KindFatal.String())
}
