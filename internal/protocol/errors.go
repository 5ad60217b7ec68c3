package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnroutableTag     = errors.New("unroutable tag")
)

// UnroutableTagError reports a well-formed envelope whose tag has no
// decoder. Suggestion is the closest known tag, if any is near enough.
type UnroutableTagError struct {
	Tag        Tag
	Suggestion Tag
}

func (e *UnroutableTagError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unroutable tag %q (did you mean %q?)", e.Tag, e.Suggestion)
	}
	return fmt.Sprintf("unroutable tag %q", e.Tag)
}

func (e *UnroutableTagError) Unwrap() error { return ErrUnroutableTag }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, fmt.Sprintf(format, args...))
}
