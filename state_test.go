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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStateManager(t *testing.T) *StateManager {
	t.Helper()
	return NewStateManagerWithPath(filepath.Join(t.TempDir(), "state_900001234.json"), NewLogger(false))
}

func TestLoadMissingState(t *testing.T) {
	m := newTestStateManager(t)

	state := m.Load()
	if state.CurrentReading != 0 || !state.LastRun.IsZero() || state.LiterCost != 0 {
		t.Errorf("Expected zero state for missing file, got %+v", state)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	m := newTestStateManager(t)

	saved := &AppState{
		CurrentReading: 432.5,
		LastRun:        time.Date(2026, 8, 25, 15, 4, 0, 0, time.UTC),
		LastRunError:   "authentication failed at confirm",
		LiterCost:      0.004,
	}
	if err := m.Save(saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := m.Load()
	if loaded.CurrentReading != saved.CurrentReading {
		t.Errorf("Expected reading %g, got %g", saved.CurrentReading, loaded.CurrentReading)
	}
	if !loaded.LastRun.Equal(saved.LastRun) {
		t.Errorf("Expected last run %v, got %v", saved.LastRun, loaded.LastRun)
	}
	if loaded.LastRunError != saved.LastRunError {
		t.Errorf("Expected error %q, got %q", saved.LastRunError, loaded.LastRunError)
	}
	if loaded.LiterCost != saved.LiterCost {
		t.Errorf("Expected rate %g, got %g", saved.LiterCost, loaded.LiterCost)
	}
}

func TestLoadCorruptState(t *testing.T) {
	m := newTestStateManager(t)
	if err := os.WriteFile(m.FilePath(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	state := m.Load()
	if state.CurrentReading != 0 || state.LiterCost != 0 {
		t.Errorf("Expected zero state for corrupt file, got %+v", state)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	m := newTestStateManager(t)
	if err := m.Save(&AppState{CurrentReading: 1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(m.FilePath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temp file to be renamed away")
	}
}
