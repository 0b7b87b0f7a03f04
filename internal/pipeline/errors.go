package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindNoMatch         Kind = "no_match"
	KindUnavailable     Kind = "unavailable"
	KindOpenFailure     Kind = "open_failure"
	KindEmptyResult     Kind = "empty_result"
	KindAssemblyFailure Kind = "assembly_failure"
	KindFatal           Kind = "fatal"
)

// PerWord reports whether failures of this kind only drop one word.
func (k Kind) PerWord() bool {
	return k == KindNoMatch || k == KindUnavailable || k == KindOpenFailure
}

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Word    string
	Locator string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Word != "" {
		msg += fmt.Sprintf(" (word %q)", e.Word)
	}
	if e.Locator != "" {
		msg += fmt.Sprintf(" (source %s)", e.Locator)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the text reported to callers.
func (e *Error) Message() string {
	switch e.Kind {
	case KindEmptyResult:
		return "No videos found for the given words"
	case KindAssemblyFailure:
		if e.Err != nil {
			return "Failed to assemble video: " + e.Err.Error()
		}
		return "Failed to assemble video"
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind)
	}
}

// KindOf returns the kind of a pipeline error, or KindFatal for any other
// non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}
