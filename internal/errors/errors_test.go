package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	err := New(KindTimeout, "plugin load exceeded 5s")
	assert.Equal(t, "timeout: plugin load exceeded 5s", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(KindStorageFailure, "", cause)
	assert.Equal(t, "disk full", wrapped.Message)
	assert.Same(t, cause, wrapped.Unwrap())
}

func TestKindOfUnwrapsChain(t *testing.T) {
	inner := New(KindSchemaIncompatible, "schema too new")
	outer := Wrap(KindStorageFailure, "discovery failed", inner)
	// outer.Cause is inner; KindOf returns the kind of the outermost *Error in the chain.
	assert.Equal(t, KindStorageFailure, KindOf(outer))
	assert.Equal(t, KindSchemaIncompatible, KindOf(inner))
}

func TestIsNotFoundAndTimeout(t *testing.T) {
	assert.True(t, IsNotFound(New(KindNotFound, "no such symbol")))
	assert.True(t, IsTimeout(New(KindTimeout, "deadline exceeded")))
	assert.False(t, IsNotFound(New(KindTimeout, "x")))
	assert.False(t, IsNotFound(nil))
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(KindPluginFailure, "parse panicked")
	assert.True(t, errors.Is(err, &Error{Kind: KindPluginFailure}))
	assert.False(t, errors.Is(err, &Error{Kind: KindTimeout}))
}
