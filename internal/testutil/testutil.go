// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    testutil.RequireVoicesTable(t, "voices.bin", "cosette")
//	    ...
//	}
package testutil

import (
	"os"
	"testing"

	"github.com/example/pockettts-engine/internal/voice"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the ORT_LIBRARY_PATH env var, then the
// POCKETTTS_ORT_LIB env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "POCKETTTS_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			_, err := os.Stat(p)
			if err == nil {
				return // found
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
		}
	}
	// Fall back to common system locations.
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return // found
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or POCKETTTS_ORT_LIB")
}

// RequireVoicesTable skips the test if path cannot be parsed as a
// voices.bin table or does not declare id.
func RequireVoicesTable(tb testing.TB, path, id string) {
	tb.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		tb.Skipf("voices table not available at %q: %v", path, err)
	}

	table, err := voice.ParseTable(data)
	if err != nil {
		tb.Skipf("voices table at %q is not parseable: %v", path, err)
	}

	if _, ok := table.Lookup(id); !ok {
		tb.Skipf("voice %q not declared in %q", id, path)
	}
}
