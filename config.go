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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Portal credentials
	Email         string `yaml:"email"`
	Password      string `yaml:"password"`
	AccountNumber string `yaml:"account_number"`
	MeterID       string `yaml:"meter_id"`

	// Cost rate in GBP per liter; 0 means the default rate
	LiterCost float64 `yaml:"liter_cost"`

	// Hours of day (local time) at which daemon runs trigger
	FetchHours []int `yaml:"fetch_hours"`

	// Path of the statistics database
	DatabasePath string `yaml:"database_path"`

	// Daemon mode settings
	Daemon  bool `yaml:"daemon"`
	Web     bool `yaml:"web"`
	WebPort int  `yaml:"web_port"`

	Debug bool `yaml:"debug"`
}

// LoadConfig reads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyDefaults fills in unset optional fields
func (c *Config) ApplyDefaults() {
	if c.LiterCost == 0 {
		c.LiterCost = DefaultLiterCost
	}
	if len(c.FetchHours) == 0 {
		// Afternoon and late evening, matching when the portal tends
		// to have published new data
		c.FetchHours = []int{15, 23}
	}
	if c.DatabasePath == "" {
		configDir, err := os.UserConfigDir()
		if err == nil {
			c.DatabasePath = filepath.Join(configDir, "twmeter", "statistics.db")
		} else {
			c.DatabasePath = "statistics.db"
		}
	}
	if c.WebPort == 0 {
		c.WebPort = 8080
	}
}

// Validate checks the configuration and returns all problems found
func (c *Config) Validate() error {
	var errors []string

	if c.Email == "" {
		errors = append(errors, "email is required")
	}
	if c.Password == "" {
		errors = append(errors, "password is required")
	}
	if c.AccountNumber == "" {
		errors = append(errors, "account_number is required")
	}
	if c.MeterID == "" {
		errors = append(errors, "meter_id is required")
	}
	if c.LiterCost < MinLiterCost || c.LiterCost > MaxLiterCost {
		errors = append(errors, fmt.Sprintf("liter_cost must be between %g and %g", MinLiterCost, MaxLiterCost))
	}
	for _, hour := range c.FetchHours {
		if hour < 0 || hour > 23 {
			errors = append(errors, fmt.Sprintf("fetch hour %d is out of range (0-23)", hour))
		}
	}
	if c.WebPort < 1 || c.WebPort > 65535 {
		errors = append(errors, fmt.Sprintf("web_port %d is out of range (1-65535)", c.WebPort))
	}

	if len(errors) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}
