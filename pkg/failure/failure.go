// Package failure defines the typed errors produced while validating and executing workflow graphs.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how it propagates.
type Kind string

const (
	// KindConfig is raised before execution; the run never starts.
	KindConfig Kind = "ConfigError"
	// KindExecution is a single node failure, recorded on its NodeRun.
	KindExecution Kind = "ExecutionError"
	// KindFatalInvariant aborts the run and points at a validation or store bug.
	KindFatalInvariant Kind = "FatalInvariant"
	// KindCancelled marks work stopped by an external cancellation.
	KindCancelled Kind = "Cancelled"
)

// Config error codes.
const (
	CodeCyclicGraph     = "CyclicGraph"
	CodeDanglingEdge    = "DanglingEdge"
	CodeDuplicateNode   = "DuplicateNode"
	CodeInvalidNode     = "InvalidNode"
	CodeDuplicateHandle = "DuplicateHandle"
)

// Sentinels usable with errors.Is against any *Error of the matching kind.
var (
	ErrConfig         = errors.New("configuration error")
	ErrExecution      = errors.New("execution error")
	ErrFatalInvariant = errors.New("fatal invariant violation")
	ErrCancelled      = errors.New("run cancelled")
)

// Error is a failure with a kind tag and a human readable detail.
type Error struct {
	Kind   Kind
	Code   string
	NodeID string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Code != "" {
		prefix += "(" + e.Code + ")"
	}

	if e.NodeID != "" {
		prefix += " node " + e.NodeID
	}

	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Detail, e.Err)
	case e.Detail != "":
		return prefix + ": " + e.Detail
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return prefix
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels, and *Error targets by kind and code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfig:
		return e.Kind == KindConfig
	case ErrExecution:
		return e.Kind == KindExecution
	case ErrFatalInvariant:
		return e.Kind == KindFatalInvariant
	case ErrCancelled:
		return e.Kind == KindCancelled
	}

	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && (other.Code == "" || other.Code == e.Code)
	}

	return false
}

// Config builds a configuration error.
func Config(code, detail string) *Error {
	return &Error{Kind: KindConfig, Code: code, Detail: detail}
}

// Execution wraps an executor error for a node.
func Execution(nodeID string, err error) *Error {
	return &Error{Kind: KindExecution, NodeID: nodeID, Err: err}
}

// Fatal builds a fatal invariant violation.
func Fatal(detail string) *Error {
	return &Error{Kind: KindFatalInvariant, Detail: detail}
}

// Cancelled builds a cancellation failure, optionally for a single node.
func Cancelled(nodeID string, cause error) *Error {
	return &Error{Kind: KindCancelled, NodeID: nodeID, Detail: "run cancelled", Err: cause}
}

// KindOf returns the kind of err, or "" when err carries no *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return ""
}

// CodeOf returns the code of err, or "" when err carries no *Error.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}

	return ""
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

// IsExecution reports whether err is a node execution error.
func IsExecution(err error) bool {
	return errors.Is(err, ErrExecution)
}

// IsFatal reports whether err is a fatal invariant violation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalInvariant)
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
