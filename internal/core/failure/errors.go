// Package failure defines the closed set of failure kinds reported by pipeline
// components and the pure mapping from a kind to a recovery action.
package failure

import (
	"errors"
	"fmt"
)

// Kind tags an error with its origin in the pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindTransient
	KindFatalProvider
	KindPublish
	KindDeserialization
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindValidation:      "validation",
	KindNotFound:        "not_found",
	KindTransient:       "transient",
	KindFatalProvider:   "fatal_provider",
	KindPublish:         "publish",
	KindDeserialization: "deserialization",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed error every collaborator reports.
type Error struct {
	Kind Kind
	Ref  string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if e.Ref != "" {
		msg = fmt.Sprintf("%s (ref=%s)", msg, e.Ref)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Validation reports a structural or semantic validation failure of an item or AI result.
func Validation(ref, msg string, err error) *Error {
	return &Error{Kind: KindValidation, Ref: ref, Msg: msg, Err: err}
}

// NotFound reports a missing prompt/schema for ref.
func NotFound(ref string) *Error {
	return &Error{Kind: KindNotFound, Ref: ref, Msg: "prompt not found"}
}

// Transient reports a failure expected to clear on retry.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// FatalProvider reports a definitive provider error or an unusable response.
func FatalProvider(msg string, err error) *Error {
	return &Error{Kind: KindFatalProvider, Msg: msg, Err: err}
}

// Publish reports that a result could not be committed to the broker.
func Publish(msg string, err error) *Error {
	return &Error{Kind: KindPublish, Msg: msg, Err: err}
}

// Deserialization reports inbound bytes that are not a valid work item.
func Deserialization(msg string, err error) *Error {
	return &Error{Kind: KindDeserialization, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is tagged KindTransient.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// RefOf returns the ref recorded on the outermost *Error, if any.
func RefOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Ref
	}
	return ""
}
