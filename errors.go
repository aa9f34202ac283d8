package batchkit

import (
	"errors"
	"fmt"
)

// Code is the machine-readable discriminator of a per-item error.
type Code string

const (
	CodeBatchItemNotFound   Code = "BatchItemNotFoundError"
	CodeCaughtResourceError Code = "CaughtResourceError"
)

// BatchItemError is a per-item error that takes part in result reordering.
// Only BatchItemNotFoundError and CaughtResourceError implement it.
type BatchItemError interface {
	error
	Code() Code
	batchItemError()
}

var (
	_ BatchItemError = BatchItemNotFoundError{}
	_ BatchItemError = CaughtResourceError{}
)

// BatchItemNotFoundError means the response has no entry for a requested key.
// Prop is empty when the response was dict-shaped.
type BatchItemNotFoundError struct {
	Path ResourcePath
	Key  string
	Prop string
}

func (e BatchItemNotFoundError) Error() string {
	if e.Prop == "" {
		return fmt.Sprintf("%s could not find key = %q in the response dict", e.Path.prefix(), e.Key)
	}
	return fmt.Sprintf("%s response did not contain item with %s = %s", e.Path.prefix(), e.Prop, e.Key)
}

func (BatchItemNotFoundError) Code() Code { return CodeBatchItemNotFound }

func (BatchItemNotFoundError) batchItemError() {}

// CaughtResourceError carries a per-item resource failure through reordering.
// ReorderValue stands in for the identifying property, which a failed item
// does not have; it must be a string or a number.
type CaughtResourceError struct {
	Path         ResourcePath
	Cause        error
	ReorderValue any
}

// NewCaughtResourceError wraps cause for the item identified by reorderValue.
func NewCaughtResourceError(path ResourcePath, cause error, reorderValue any) CaughtResourceError {
	return CaughtResourceError{
		Path:         path,
		Cause:        cause,
		ReorderValue: reorderValue,
	}
}

func (e CaughtResourceError) Error() string {
	if e.Cause == nil {
		return e.Path.prefix() + " caught resource error"
	}
	return e.Path.prefix() + " caught resource error: " + e.Cause.Error()
}

func (e CaughtResourceError) Unwrap() error { return e.Cause }

func (CaughtResourceError) Code() Code { return CodeCaughtResourceError }

func (CaughtResourceError) batchItemError() {}

// ReconcileError means a response could not be matched back to its keys.
// The whole batch is rejected; Err holds the offending item's own error, if any.
type ReconcileError struct {
	Path    ResourcePath
	Message string
	Value   any
	Err     error
}

func (e ReconcileError) Error() string {
	msg := fmt.Sprintf("%s %s: %#v", e.Path.prefix(), e.Message, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ReconcileError) Unwrap() error { return e.Err }

// CodeOf returns the discriminator of the first BatchItemError in err's chain.
func CodeOf(err error) (Code, bool) {
	var itemErr BatchItemError
	if !errors.As(err, &itemErr) {
		return "", false
	}
	return itemErr.Code(), true
}

// IsNotFound reports whether err is or wraps a BatchItemNotFoundError.
func IsNotFound(err error) bool {
	var notFound BatchItemNotFoundError
	return errors.As(err, &notFound)
}
