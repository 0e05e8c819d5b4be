package model

import "fmt"

// ErrorClass is the error taxonomy used across the indexer to decide
// retry/propagation policy: Network and Store errors retry, Decode errors
// do not, Config and Invariant errors are fatal at startup or mid-run.
type ErrorClass string

const (
	ClassNetwork   ErrorClass = "network"
	ClassDecode    ErrorClass = "decode"
	ClassStore     ErrorClass = "store"
	ClassConfig    ErrorClass = "config"
	ClassInvariant ErrorClass = "invariant"
)

// ClassifiedError tags an underlying error with its ErrorClass so callers
// can branch on retry policy without string-matching.
type ClassifiedError struct {
	Class ErrorClass
	Msg   string
	Err   error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func NewNetworkError(msg string, err error) error {
	return &ClassifiedError{Class: ClassNetwork, Msg: msg, Err: err}
}

func NewDecodeError(msg string, err error) error {
	return &ClassifiedError{Class: ClassDecode, Msg: msg, Err: err}
}

func NewStoreError(msg string, err error) error {
	return &ClassifiedError{Class: ClassStore, Msg: msg, Err: err}
}

func NewConfigError(msg string, err error) error {
	return &ClassifiedError{Class: ClassConfig, Msg: msg, Err: err}
}

func NewInvariantError(msg string, err error) error {
	return &ClassifiedError{Class: ClassInvariant, Msg: msg, Err: err}
}

// ClassOf extracts the ErrorClass from err, if any, via errors.As-compatible
// unwrapping; ok is false for unclassified errors.
func ClassOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	for err != nil {
		if c, ok := err.(*ClassifiedError); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ce == nil {
		return "", false
	}
	return ce.Class, true
}
