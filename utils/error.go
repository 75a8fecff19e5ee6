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

package utils

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// APIError is an error carrying the HTTP status code it should be surfaced with.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// NewAPIError creates an APIError.
func NewAPIError(code int, message string, cause error) APIError {
	return APIError{Code: code, Message: message, Cause: cause}
}

func (e APIError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
}

// Unwrap returns the cause.
func (e APIError) Unwrap() error {
	return e.Cause
}

// StackedError contains multiple lines of error messages as well as the stack trace.
type StackedError struct {
	Messages []string `json:"messages"`
	Stack    []string `json:"stack"`
}

func (e *StackedError) Error() string {
	var sb strings.Builder
	for i := len(e.Messages) - 1; i >= 0; i-- {
		sb.WriteString(e.Messages[i])
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(e.Stack, "\n"))
	return sb.String()
}

// StackError adds one more line of message to err.
// It updates err if it's already a StackedError, otherwise creates a new StackedError
// with the message from err and the stack trace of current goroutine.
func StackError(err error, message string, args ...interface{}) *StackedError {
	var e *StackedError
	if err != nil && errors.As(err, &e) {
		if message != "" {
			e.Messages = append(e.Messages, fmt.Sprintf(message, args...))
		}
		return e
	}

	stack := make([]byte, 0x10000)
	n := runtime.Stack(stack, false)
	e = &StackedError{Stack: strings.Split(string(stack[:n]), "\n")}
	if err != nil {
		e.Messages = append(e.Messages, err.Error())
	}
	if message != "" {
		e.Messages = append(e.Messages, fmt.Sprintf(message, args...))
	}
	return e
}

// RecoverWrap runs call and converts a panic inside it into an error.
func RecoverWrap(call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case string:
				err = errors.New(x)
			case error:
				err = errors.WithStack(x)
			default:
				err = errors.Errorf("unknown panic: %v", r)
			}
		}
	}()
	return call()
}
