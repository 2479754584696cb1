// Package generate produces order artifacts from a text prompt.
// Previews carry a visible watermark; the final deliverable after an
// accepted payment does not. The backend is abstracted behind the
// Generator interface so the state machine never touches the image
// synthesis details.
package generate

import (
	"context"
	"fmt"
)

// Generator is the artifact generation capability. Generate returns
// an opaque artifact reference (for the shipped backends, a file
// path) for the given prompt. When watermark is true the artifact is
// a sample stamped with a visible watermark.
//
// A failed generation returns a *GenerationError; such failures are
// transient and the caller may retry.
type Generator interface {
	Generate(ctx context.Context, prompt string, watermark bool) (string, error)
}

// GenerationError is a transient backend failure. The session that
// requested the artifact stays in its prior state and the request may
// be retried.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// failed wraps a backend error into a GenerationError.
func failed(reason string, err error) error {
	return &GenerationError{Reason: reason, Err: err}
}
