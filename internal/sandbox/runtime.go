package sandbox

import (
	"fmt"
	"os/exec"
)

// RuntimeError means no usable container engine was found. It is never
// retried; Guidance tells the operator how to fix their setup.
type RuntimeError struct {
	Requested string
	Guidance  string
	Err       error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("container runtime %q unavailable: %v", e.Requested, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// detectRuntime resolves the container engine binary. "auto" prefers
// podman (rootless by default) and falls back to docker.
func detectRuntime(requested string) (string, error) {
	candidates := []string{requested}
	if requested == "" || requested == "auto" {
		candidates = []string{"podman", "docker"}
	}

	var lastErr error
	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err != nil {
			lastErr = err
			continue
		}
		// A binary on PATH whose daemon is down fails here, not later
		// mid-engagement with a confusing pull error.
		if out, err := exec.Command(path, "version").CombinedOutput(); err != nil {
			lastErr = fmt.Errorf("%s version: %w: %s", name, err, tail(string(out), 200))
			continue
		}
		return path, nil
	}

	return "", &RuntimeError{
		Requested: requested,
		Guidance:  "Install podman or docker and make sure its daemon/socket is running, or set \"runtime\" in the pincer config.",
		Err:       lastErr,
	}
}

// DetectRuntime probes for a usable container engine and returns the
// resolved binary path. A *RuntimeError describes how to fix the setup
// when none is found.
func DetectRuntime(requested string) (string, error) {
	return detectRuntime(requested)
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
