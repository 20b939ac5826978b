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
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Email:         "user@example.com",
		Password:      "hunter2",
		AccountNumber: "900001234",
		MeterID:       "543321",
		LiterCost:     DefaultLiterCost,
		FetchHours:    []int{15, 23},
		DatabasePath:  "statistics.db",
		WebPort:       8080,
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `email: user@example.com
password: hunter2
account_number: "900001234"
meter_id: "543321"
liter_cost: 0.004
fetch_hours: [9, 21]
daemon: true
web: true
web_port: 9090
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Email != "user@example.com" {
		t.Errorf("Expected email user@example.com, got %s", config.Email)
	}
	if config.AccountNumber != "900001234" {
		t.Errorf("Expected account 900001234, got %s", config.AccountNumber)
	}
	if config.LiterCost != 0.004 {
		t.Errorf("Expected liter_cost 0.004, got %g", config.LiterCost)
	}
	if len(config.FetchHours) != 2 || config.FetchHours[0] != 9 || config.FetchHours[1] != 21 {
		t.Errorf("Unexpected fetch hours %v", config.FetchHours)
	}
	if !config.Daemon || !config.Web || config.WebPort != 9090 {
		t.Errorf("Unexpected daemon settings: daemon=%v web=%v port=%d", config.Daemon, config.Web, config.WebPort)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &Config{}
	config.ApplyDefaults()

	if config.LiterCost != DefaultLiterCost {
		t.Errorf("Expected default liter cost, got %g", config.LiterCost)
	}
	if len(config.FetchHours) != 2 || config.FetchHours[0] != 15 || config.FetchHours[1] != 23 {
		t.Errorf("Unexpected default fetch hours %v", config.FetchHours)
	}
	if config.DatabasePath == "" {
		t.Error("Expected a default database path")
	}
	if config.WebPort != 8080 {
		t.Errorf("Expected default web port 8080, got %d", config.WebPort)
	}
}

func TestValidateValid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	config := validConfig()
	config.Email = ""
	config.Password = ""
	config.LiterCost = 2.0
	config.FetchHours = []int{25}
	config.WebPort = 70000

	err := config.Validate()
	if err == nil {
		t.Fatal("Expected validation to fail")
	}

	msg := err.Error()
	for _, fragment := range []string{"email", "password", "liter_cost", "fetch hour 25", "web_port"} {
		if !strings.Contains(msg, fragment) {
			t.Errorf("Expected validation message to mention %q, got:\n%s", fragment, msg)
		}
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing email", func(c *Config) { c.Email = "" }},
		{"missing password", func(c *Config) { c.Password = "" }},
		{"missing account", func(c *Config) { c.AccountNumber = "" }},
		{"missing meter", func(c *Config) { c.MeterID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation to fail")
			}
		})
	}
}
