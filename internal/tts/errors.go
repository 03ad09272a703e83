package tts

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled is wrapped into every error Load, SynthesizeStream, or
// Stream.Next return because the caller's context was cancelled or hit
// its deadline, so callers can test for cancellation uniformly with
// errors.Is(err, tts.ErrCancelled) instead of matching on context.Canceled
// directly at every call site.
var ErrCancelled = errors.New("synthesis cancelled")

// ModelLoadError reports which stage of Engine.Load failed: asset
// download, session open, tokenizer load, voices table parse, or flow
// schedule construction.
type ModelLoadError struct {
	Stage string
	Cause error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Stage, e.Cause)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Cause
}

// InputError reports a caller-supplied synthesis input that fails
// validation before any ONNX session runs.
type InputError struct {
	Field string
	Cause error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Cause)
}

func (e *InputError) Unwrap() error {
	return e.Cause
}

func wrapCancelled(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

func normalizeCancellation(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapCancelled(err)
	}
	return err
}
