package voice

import "errors"

var (
	// ErrInvalidSample marks uploads rejected before registration.
	ErrInvalidSample = errors.New("invalid voice sample")
	// ErrVoiceExists marks uploads that collide with a registered name.
	ErrVoiceExists = errors.New("voice already exists")
)
