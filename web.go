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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// WebServer serves the status API and the metrics endpoint
type WebServer struct {
	server *http.Server
	store  *StatisticsStore
	state  *StateManager
	calc   *CostCalculator
	mc     *MetricsCollector
	logger *Logger
}

// NewWebServer creates the status server on the given port
func NewWebServer(port int, store *StatisticsStore, state *StateManager, calc *CostCalculator, mc *MetricsCollector, logger *Logger) *WebServer {
	ws := &WebServer{
		store:  store,
		state:  state,
		calc:   calc,
		mc:     mc,
		logger: logger.WithComponent("web"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", ws.handleRoot)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/statistics", ws.handleStatistics)
	mux.HandleFunc("/api/cost", ws.handleCost)
	mux.Handle("/metrics", mc)

	ws.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return ws
}

// Start runs the server until Shutdown is called
func (ws *WebServer) Start() {
	ws.logger.Info("Starting web server", "addr", ws.server.Addr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Error("Web server failed", "error", err.Error())
		}
	}()
}

// Shutdown stops the server gracefully
func (ws *WebServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), WebShutdownTimeout)
	defer cancel()
	if err := ws.server.Shutdown(ctx); err != nil {
		ws.logger.Warn("Web server shutdown failed", "error", err.Error())
	}
}

func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	appState := ws.state.Load()
	lastRun := "never"
	if !appState.LastRun.IsZero() {
		lastRun = appState.LastRun.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>twmeter</title></head>
<body>
<h1>twmeter</h1>
<p>%s</p>
<table>
<tr><td>Current reading</td><td>%.1f L</td></tr>
<tr><td>Last run</td><td>%s</td></tr>
<tr><td>Cost rate</td><td>%g %s/L</td></tr>
</table>
<ul>
<li><a href="/api/status">Status</a></li>
<li><a href="/api/statistics">Consumption statistics</a></li>
<li><a href="/api/statistics?series=cost">Cost statistics</a></li>
<li><a href="/metrics">Metrics</a></li>
</ul>
</body>
</html>
`, GetToolID(), appState.CurrentReading, lastRun, ws.calc.LiterCost(), ws.calc.Currency())
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	appState := ws.state.Load()
	status := map[string]interface{}{
		"tool":            GetToolID(),
		"current_reading": appState.CurrentReading,
		"liter_cost":      ws.calc.LiterCost(),
		"currency":        ws.calc.Currency(),
	}
	if !appState.LastRun.IsZero() {
		status["last_run"] = appState.LastRun.Format(time.RFC3339)
	}
	if appState.LastRunError != "" {
		status["last_run_error"] = appState.LastRunError
	}

	writeJSON(w, http.StatusOK, status)
}

func (ws *WebServer) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	series := r.URL.Query().Get("series")
	if series == "" {
		series = SeriesConsumption
	}
	if series != SeriesConsumption && series != SeriesCost {
		http.Error(w, fmt.Sprintf("unknown series %q", series), http.StatusBadRequest)
		return
	}

	days := WebDefaultStatisticsDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}
	if days > WebMaxStatisticsDays {
		days = WebMaxStatisticsDays
	}

	points, err := ws.store.RecentPoints(r.Context(), series, days)
	if err != nil {
		ws.logger.Error("Failed to load statistics", "series", series, "error", err.Error())
		http.Error(w, "failed to load statistics", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []StatisticPoint{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"series": series,
		"days":   days,
		"points": points,
	})
}

func (ws *WebServer) handleCost(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"liter_cost": ws.calc.LiterCost(),
			"currency":   ws.calc.Currency(),
			"min":        MinLiterCost,
			"max":        MaxLiterCost,
		})
	case http.MethodPost:
		var payload struct {
			LiterCost float64 `json:"liter_cost"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := ws.calc.UpdateLiterCost(payload.LiterCost); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ws.logger.Info("Cost rate updated", "liter_cost", payload.LiterCost)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"liter_cost": ws.calc.LiterCost(),
			"currency":   ws.calc.Currency(),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
