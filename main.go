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

// twmeter scrapes hourly smart water meter usage from the Thames
// Water customer portal and aggregates it into consumption and cost
// statistics. It can run once or as a daemon with a status web
// server and a Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	runOnce := flag.Bool("once", false, "Run a single aggregation run and exit")
	daemon := flag.Bool("daemon", false, "Run on a schedule")
	web := flag.Bool("web", false, "Enable the status web server (daemon mode)")
	port := flag.Int("port", 0, "Status web server port")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Println(GetToolID())
		return
	}

	// A .env file next to the binary is convenient for development
	_ = godotenv.Load()

	config, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	if setFlags["daemon"] {
		config.Daemon = *daemon
	}
	if setFlags["web"] {
		config.Web = *web
	}
	if setFlags["port"] {
		config.WebPort = *port
	}
	if setFlags["debug"] {
		config.Debug = *debug
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := NewLogger(config.Debug).WithAccountNumber(config.AccountNumber)
	logger.Info("Starting", "tool", GetToolID())

	state, err := NewStateManager(config.AccountNumber, logger)
	if err != nil {
		logger.Error("Failed to initialize state", "error", err.Error())
		os.Exit(1)
	}

	store, err := NewStatisticsStore(config.DatabasePath, logger)
	if err != nil {
		logger.Error("Failed to open statistics store", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	// A rate set through the web API survives restarts via app state.
	// The state file is user-editable, so the override is validated
	// before it displaces the configured rate.
	literCost := config.LiterCost
	if saved := state.Load(); saved.LiterCost != 0 {
		if saved.LiterCost >= MinLiterCost && saved.LiterCost <= MaxLiterCost {
			literCost = saved.LiterCost
		} else {
			logger.Warn("Ignoring out-of-range cost rate from state file", "liter_cost", saved.LiterCost)
		}
	}
	calc, err := NewCostCalculator(literCost)
	if err != nil {
		logger.Error("Invalid cost rate", "error", err.Error())
		os.Exit(1)
	}
	calc.OnUpdate = func(rate float64) {
		appState := state.Load()
		appState.LiterCost = rate
		if err := state.Save(appState); err != nil {
			logger.Warn("Failed to persist cost rate", "error", err.Error())
		}
	}

	client := NewThamesWaterClient(config.Email, config.Password, config.AccountNumber, config.MeterID, config.Debug)
	monitor := NewUsageMonitor(client, store, state, calc, config.FetchHours, logger)

	if *runOnce || !config.Daemon {
		if err := monitor.RunOnce(context.Background()); err != nil {
			logger.Error("Run failed", "error", err.Error())
			os.Exit(1)
		}
		return
	}

	monitor.Start()

	var webServer *WebServer
	if config.Web {
		mc := NewMetricsCollector(client, monitor.RunMetrics(), state)
		webServer = NewWebServer(config.WebPort, store, state, calc, mc, logger)
		webServer.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", "signal", sig.String())

	monitor.Stop()
	if webServer != nil {
		webServer.Shutdown()
	}
}

// resolveConfig builds the configuration from file and environment.
// Precedence is flags > environment > config file.
func resolveConfig(path string) (*Config, error) {
	config := &Config{}

	if path == "" {
		path = defaultConfigPath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := LoadConfig(path)
			if err != nil {
				return nil, err
			}
			config = loaded
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	applyEnv(config)
	return config, nil
}

func defaultConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(configDir, "twmeter", "config.yaml")
}

func applyEnv(config *Config) {
	if v := os.Getenv("TW_EMAIL"); v != "" {
		config.Email = v
	}
	if v := os.Getenv("TW_PASSWORD"); v != "" {
		config.Password = v
	}
	if v := os.Getenv("TW_ACCOUNT_NUMBER"); v != "" {
		config.AccountNumber = v
	}
	if v := os.Getenv("TW_METER_ID"); v != "" {
		config.MeterID = v
	}
	if v := os.Getenv("TW_LITER_COST"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			config.LiterCost = parsed
		}
	}
	if v := os.Getenv("TW_DATABASE_PATH"); v != "" {
		config.DatabasePath = v
	}
	if v := os.Getenv("TW_DEBUG"); v == "true" || v == "1" {
		config.Debug = true
	}
}
