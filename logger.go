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
	"log/slog"
	"os"
)

// Logger wraps slog.Logger for structured logging throughout the application
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new structured logger
func NewLogger(debug bool) *Logger {
	var level slog.Level
	if debug {
		level = slog.LevelDebug
	} else {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a new JSON structured logger (useful for production/log aggregation)
func NewJSONLogger(debug bool) *Logger {
	var level slog.Level
	if debug {
		level = slog.LevelDebug
	} else {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithComponent returns a logger with a component field pre-set
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

// WithAccountNumber returns a logger with an account_number field pre-set.
// The number is masked; only the leading digits appear in logs.
func (l *Logger) WithAccountNumber(accountNumber string) *Logger {
	masked := accountNumber
	if len(accountNumber) > 4 {
		masked = accountNumber[:4] + "***"
	}
	return &Logger{
		Logger: l.Logger.With("account_number", masked),
	}
}

// LogHTTPExchange logs one request/response pair with common fields
func (l *Logger) LogHTTPExchange(method, endpoint string, statusCode int, duration float64) {
	l.Info("HTTP exchange",
		"method", method,
		"endpoint", endpoint,
		"status_code", statusCode,
		"duration_ms", duration*1000,
	)
}

// LogAuthStep logs completion of one login-sequence step
func (l *Logger) LogAuthStep(step string) {
	l.Debug("Login step complete", "step", step)
}

// LogDaySkipped logs a day the run could not use, with the reason
func (l *Logger) LogDaySkipped(date string, reason string) {
	l.Warn("Skipping day",
		"date", date,
		"reason", reason,
	)
}

// LogLineSkipped logs a usage line dropped during parsing
func (l *Logger) LogLineSkipped(label string, err error) {
	l.Warn("Skipping unparseable usage line",
		"label", label,
		"error", err.Error(),
	)
}
