package sbcfile

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two sbcfile-level categories from spec §7:
// EncodingError (producing bytes) and LoadError (parsing them back).
var (
	ErrEncoding = errors.New("sbc encoding error")
	ErrLoad     = errors.New("sbc load error")
)

// EncodingError wraps ErrEncoding with a message, in the sentinel-plus-
// fmt.Errorf("%w", ...) style used throughout this module.
type EncodingError struct{ Message string }

func (e *EncodingError) Error() string { return e.Message }
func (e *EncodingError) Unwrap() error { return ErrEncoding }

func encErrf(format string, args ...any) error {
	return &EncodingError{Message: fmt.Sprintf(format, args...)}
}

// LoadError wraps ErrLoad with a message.
type LoadError struct{ Message string }

func (e *LoadError) Error() string { return e.Message }
func (e *LoadError) Unwrap() error { return ErrLoad }

func loadErrf(format string, args ...any) error {
	return &LoadError{Message: fmt.Sprintf(format, args...)}
}
