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
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("Expected a non-empty version")
	}
}

func TestGetToolID(t *testing.T) {
	id := GetToolID()
	if !strings.HasPrefix(id, "twmeter ") {
		t.Errorf("Expected tool id to start with the tool name, got %q", id)
	}
	if !strings.Contains(id, GetVersion()) {
		t.Errorf("Expected tool id to contain the version, got %q", id)
	}
}
