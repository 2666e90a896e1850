package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormatsContext(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Writer", "connect", "dial socket")
	require.Error(t, err)
	assert.Equal(t, "Writer.connect: dial socket failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "a", "b", "c"))
	assert.NoError(t, WrapTransient(nil, "a", "b", "c"))
	assert.NoError(t, WrapInvalid(nil, "a", "b", "c"))
	assert.NoError(t, WrapFatal(nil, "a", "b", "c"))
}

func TestClassifiedErrorsUnwrap(t *testing.T) {
	err := WrapInvalid(ErrInvalidConfig, "Config", "Validate", "shard count")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Config", ce.Component)
	assert.True(t, stderrors.Is(err, ErrInvalidConfig))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{"queue full", ErrQueueFull, true, false, false},
		{"connection lost", ErrConnectionLost, true, false, false},
		{"deadline", context.DeadlineExceeded, true, false, false},
		{"broken pipe message", fmt.Errorf("write unix: broken pipe"), true, false, false},
		{"invalid config", ErrInvalidConfig, false, true, true},
		{"bind failed", ErrBindFailed, false, false, true},
		{"wrapped transient", WrapTransient(stderrors.New("x"), "c", "m", "a"), true, false, false},
		{"wrapped fatal", WrapFatal(stderrors.New("x"), "c", "m", "a"), false, false, true},
		{"nil", nil, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err), "IsTransient")
			assert.Equal(t, tt.invalid, IsInvalid(tt.err), "IsInvalid")
			assert.Equal(t, tt.fatal, IsFatal(tt.err), "IsFatal")
		})
	}
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}
