package synth

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError reports a request rejected at the boundary, before any
// session starts. No frames are emitted for a rejected request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// SynthesisError reports the model capability failing mid-generation.
// Frames emitted before the failure remain valid.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("synthesis failed: %v", e.Err) }

func (e *SynthesisError) Unwrap() error { return e.Err }

// ErrSessionConsumed is returned when a session is driven more than once.
var ErrSessionConsumed = errors.New("session already consumed")

// ValidateText enforces the authoritative request text bounds: non-blank
// and at most maxLen characters.
func ValidateText(text string, maxLen int) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Reason: "text cannot be empty"}
	}
	if utf8.RuneCountInString(text) > maxLen {
		return &ValidationError{Reason: fmt.Sprintf("text too long: maximum %d characters", maxLen)}
	}
	return nil
}
