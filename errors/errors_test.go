package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrapPattern(t *testing.T) {
	base := stderrors.New("bucket missing")
	err := Wrap(base, "store", "Start", "open decision bucket")

	require.Error(t, err)
	assert.Equal(t, "store.Start: open decision bucket failed: bucket missing", err.Error())
	assert.ErrorIs(t, err, base)

	assert.Nil(t, Wrap(nil, "store", "Start", "noop"))
}

func TestWrapTransientClassification(t *testing.T) {
	err := WrapTransient(stderrors.New("boom"), "collector", "HealthCheck", "ping subscription")

	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, ErrorTransient, Classify(err))

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "collector", ce.Component)
	assert.Equal(t, "HealthCheck", ce.Operation)
}

func TestWrapFatalClassification(t *testing.T) {
	err := WrapFatal(stderrors.New("boom"), "manager", "StartAll", "resolve dependencies")

	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, ErrorFatal, Classify(err))
}

func TestWrapInvalidClassification(t *testing.T) {
	err := WrapInvalid(stderrors.New("boom"), "config", "Validate", "check interval")

	assert.True(t, IsInvalid(err))
	assert.Equal(t, ErrorInvalid, Classify(err))
}

func TestSentinelClassification(t *testing.T) {
	assert.True(t, IsFatal(ErrDependencyCycle))
	assert.True(t, IsFatal(ErrUnknownDependency))
	assert.True(t, IsFatal(fmt.Errorf("start aborted: %w", ErrInvalidConfig)))
	assert.True(t, IsFatal(ErrRecoveryExhausted))

	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(ErrStorageUnavailable))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}

func TestPatternBasedClassification(t *testing.T) {
	assert.True(t, IsTransient(stderrors.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(stderrors.New("NATS connection refused")))
	assert.True(t, IsFatal(stderrors.New("fatal: bad state")))

	// Unknown errors default to transient so callers retry.
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("some opaque failure")))
}

func TestNilHandling(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsInvalid(nil))
	assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
	assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
}
