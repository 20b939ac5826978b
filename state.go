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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AppState holds the small bits of run state that survive restarts:
// the latest meter reading, the outcome of the last run and a runtime
// override of the cost rate. The hourly statistics live in the
// SQLite store, not here.
type AppState struct {
	CurrentReading float64   `json:"current_reading"` // latest day's total usage in liters
	LastRun        time.Time `json:"last_run"`
	LastRunError   string    `json:"last_run_error,omitempty"`
	LiterCost      float64   `json:"liter_cost,omitempty"` // runtime override, 0 = use config
}

// StateManager loads and persists AppState as JSON, one file per
// account under the user's config directory
type StateManager struct {
	filePath string
	logger   *Logger
}

// NewStateManager creates a state manager for the given account
func NewStateManager(accountNumber string, logger *Logger) (*StateManager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine config directory: %w", err)
	}

	stateDir := filepath.Join(configDir, "twmeter")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &StateManager{
		filePath: filepath.Join(stateDir, fmt.Sprintf("state_%s.json", accountNumber)),
		logger:   logger.WithComponent("state"),
	}, nil
}

// NewStateManagerWithPath creates a state manager backed by an
// explicit file path
func NewStateManagerWithPath(path string, logger *Logger) *StateManager {
	return &StateManager{
		filePath: path,
		logger:   logger.WithComponent("state"),
	}
}

// FilePath returns the path of the backing state file
func (m *StateManager) FilePath() string {
	return m.filePath
}

// Load reads the persisted state. A missing file yields a zero state,
// not an error; a corrupt file is logged and discarded.
func (m *StateManager) Load() *AppState {
	state := &AppState{}

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("Failed to read state file", "path", m.filePath, "error", err.Error())
		}
		return state
	}

	if err := json.Unmarshal(data, state); err != nil {
		m.logger.Warn("Discarding corrupt state file", "path", m.filePath, "error", err.Error())
		return &AppState{}
	}

	return state
}

// Save writes the state atomically (write to temp file, then rename)
func (m *StateManager) Save(state *AppState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmpPath := m.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, m.filePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}
