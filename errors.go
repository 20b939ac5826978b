// Copyright 2025 The twmeter Authors
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

package main

import (
	"errors"
	"fmt"
)

// AuthError represents a failure of one step of the scraped login
// sequence. It is terminal for the attempt: callers retry the whole
// sequence with fresh PKCE material or give up.
type AuthError struct {
	Step  string // "authorize", "self-assert", "confirm", "token-exchange", "refresh", "extract-id-token", "portal-login"
	Cause string // portal-supplied error description, if any
	Err   error  // underlying error if any
}

func (e *AuthError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("authentication failed at %s: %s", e.Step, e.Cause)
	}
	if e.Err != nil {
		return fmt.Sprintf("authentication failed at %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("authentication failed at %s", e.Step)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates an AuthError for the named login step
func NewAuthError(step, cause string, err error) *AuthError {
	return &AuthError{Step: step, Cause: cause, Err: err}
}

// APIError represents a non-2xx response from the usage endpoint.
// Day-level: the run logs it and continues with the remaining days.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("API error (%d) at %s: %s (caused by: %v)", e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("API error (%d) at %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError
func NewAPIError(statusCode int, endpoint, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Endpoint:   endpoint,
		Message:    message,
		Err:        err,
	}
}

// ParseError represents a malformed field in an otherwise valid usage
// payload. Line-level: the offending line is skipped, the day continues.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s (value: %q): %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError represents configuration or input validation errors
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error for %s (value: %v): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// IsAuthError reports whether err is (or wraps) an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
