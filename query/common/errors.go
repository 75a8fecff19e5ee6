//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrorKind classifies a query failure.
type ErrorKind int

const (
	// SQLNotValid covers every compile-time error: syntax, illegal stream combinations,
	// full-text predicates without full-text fields.
	SQLNotValid ErrorKind = iota
	// Internal is an unexpected failure in planning, serialization or transport.
	Internal
	// NotImplemented is a shape the engine does not support.
	NotImplemented
	// Canceled is an explicit abort keyed by trace id.
	Canceled
	// Timeout is the query-level timeout firing.
	Timeout
	// PartialRemote is a partition that degraded to an empty stream.
	PartialRemote
)

var errorKindNames = map[ErrorKind]string{
	SQLNotValid:    "Search SQL not valid",
	Internal:       "Internal error",
	NotImplemented: "Not implemented",
	Canceled:       "Search canceled",
	Timeout:        "Search timeout",
	PartialRemote:  "Partial result",
}

func (k ErrorKind) String() string {
	return errorKindNames[k]
}

// HTTPStatus returns the status code the kind is surfaced with.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case SQLNotValid:
		return http.StatusBadRequest
	case NotImplemented:
		return http.StatusNotImplemented
	case Canceled, Timeout:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// QueryError is the error type surfaced by query compilation and execution.
type QueryError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *QueryError) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause.Error())
	}
	return msg
}

// Unwrap returns the cause.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// NewError creates a QueryError of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps cause into a QueryError of the given kind.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrSQLNotValid is a shortcut for a SQLNotValid error.
func ErrSQLNotValid(format string, args ...interface{}) *QueryError {
	return NewError(SQLNotValid, format, args...)
}

// ErrInternal is a shortcut for an Internal error.
func ErrInternal(format string, args ...interface{}) *QueryError {
	return NewError(Internal, format, args...)
}

// ErrNotImplemented is a shortcut for a NotImplemented error.
func ErrNotImplemented(format string, args ...interface{}) *QueryError {
	return NewError(NotImplemented, format, args...)
}

// KindOf returns the kind of err, Internal when err is not a QueryError.
func KindOf(err error) ErrorKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return Internal
}

// IsKind tells whether err is a QueryError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == kind
}
