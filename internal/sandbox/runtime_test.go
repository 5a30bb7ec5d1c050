package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectRuntimeMissing(t *testing.T) {
	// No container engine on an empty PATH
	t.Setenv("PATH", t.TempDir())

	_, err := detectRuntime("auto")
	require.Error(t, err)

	var rtErr *RuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, "auto", rtErr.Requested)
	assert.Contains(t, rtErr.Guidance, "podman or docker")
}

func TestDetectRuntimeExplicitMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := detectRuntime("docker")
	var rtErr *RuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, "docker", rtErr.Requested)
}

func TestRuntimeErrorUnwrap(t *testing.T) {
	inner := errors.New("not found")
	err := &RuntimeError{Requested: "podman", Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 10))
	assert.Equal(t, "...cdefghij", tail("abcdefghij", 8))
}
