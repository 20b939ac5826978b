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
	"net/http"
	"sync/atomic"
)

// RunMetrics tracks aggregation-run counters
type RunMetrics struct {
	RunsTotal       atomic.Int64
	RunsFailed      atomic.Int64
	DaysFetched     atomic.Int64
	DaysUnavailable atomic.Int64
	DaysFailed      atomic.Int64
	PointsCommitted atomic.Int64
	AuthFailures    atomic.Int64
}

// NewRunMetrics creates a fresh counter set
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{}
}

// RecordRun counts a completed run
func (r *RunMetrics) RecordRun(success bool) {
	r.RunsTotal.Add(1)
	if !success {
		r.RunsFailed.Add(1)
	}
}

// MetricsCollector serves application metrics in Prometheus text
// exposition format
type MetricsCollector struct {
	client *ThamesWaterClient
	run    *RunMetrics
	state  *StateManager
}

// NewMetricsCollector creates a collector over the given sources
func NewMetricsCollector(client *ThamesWaterClient, run *RunMetrics, state *StateManager) *MetricsCollector {
	return &MetricsCollector{
		client: client,
		run:    run,
		state:  state,
	}
}

// ServeHTTP implements the /metrics endpoint
func (mc *MetricsCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP twmeter_up Whether the exporter is up\n")
	fmt.Fprintf(w, "# TYPE twmeter_up gauge\n")
	fmt.Fprintf(w, "twmeter_up 1\n\n")

	fmt.Fprintf(w, "# HELP twmeter_info Build information\n")
	fmt.Fprintf(w, "# TYPE twmeter_info gauge\n")
	fmt.Fprintf(w, "twmeter_info{version=%q} 1\n\n", GetVersion())

	appState := mc.state.Load()
	fmt.Fprintf(w, "# HELP twmeter_last_run_timestamp_seconds Unix time of the last aggregation run\n")
	fmt.Fprintf(w, "# TYPE twmeter_last_run_timestamp_seconds gauge\n")
	if appState.LastRun.IsZero() {
		fmt.Fprintf(w, "twmeter_last_run_timestamp_seconds 0\n\n")
	} else {
		fmt.Fprintf(w, "twmeter_last_run_timestamp_seconds %d\n\n", appState.LastRun.Unix())
	}

	fmt.Fprintf(w, "# HELP twmeter_current_reading_liters Latest day's total usage\n")
	fmt.Fprintf(w, "# TYPE twmeter_current_reading_liters gauge\n")
	fmt.Fprintf(w, "twmeter_current_reading_liters %g\n\n", appState.CurrentReading)

	fmt.Fprintf(w, "# HELP twmeter_runs_total Aggregation runs executed\n")
	fmt.Fprintf(w, "# TYPE twmeter_runs_total counter\n")
	fmt.Fprintf(w, "twmeter_runs_total %d\n\n", mc.run.RunsTotal.Load())

	fmt.Fprintf(w, "# HELP twmeter_runs_failed_total Aggregation runs that failed\n")
	fmt.Fprintf(w, "# TYPE twmeter_runs_failed_total counter\n")
	fmt.Fprintf(w, "twmeter_runs_failed_total %d\n\n", mc.run.RunsFailed.Load())

	fmt.Fprintf(w, "# HELP twmeter_days_fetched_total Days fetched with data\n")
	fmt.Fprintf(w, "# TYPE twmeter_days_fetched_total counter\n")
	fmt.Fprintf(w, "twmeter_days_fetched_total %d\n\n", mc.run.DaysFetched.Load())

	fmt.Fprintf(w, "# HELP twmeter_days_unavailable_total Days the portal had not published\n")
	fmt.Fprintf(w, "# TYPE twmeter_days_unavailable_total counter\n")
	fmt.Fprintf(w, "twmeter_days_unavailable_total %d\n\n", mc.run.DaysUnavailable.Load())

	fmt.Fprintf(w, "# HELP twmeter_days_failed_total Days skipped due to fetch errors\n")
	fmt.Fprintf(w, "# TYPE twmeter_days_failed_total counter\n")
	fmt.Fprintf(w, "twmeter_days_failed_total %d\n\n", mc.run.DaysFailed.Load())

	fmt.Fprintf(w, "# HELP twmeter_points_committed_total Statistic points written to the store\n")
	fmt.Fprintf(w, "# TYPE twmeter_points_committed_total counter\n")
	fmt.Fprintf(w, "twmeter_points_committed_total %d\n\n", mc.run.PointsCommitted.Load())

	api := mc.client.Metrics()
	fmt.Fprintf(w, "# HELP twmeter_auth_failures_total Failed login sequences\n")
	fmt.Fprintf(w, "# TYPE twmeter_auth_failures_total counter\n")
	fmt.Fprintf(w, "twmeter_auth_failures_total %d\n\n", api.AuthFailures())

	fmt.Fprintf(w, "# HELP twmeter_http_requests_total HTTP exchanges against the portal\n")
	fmt.Fprintf(w, "# TYPE twmeter_http_requests_total counter\n")
	fmt.Fprintf(w, "twmeter_http_requests_total %d\n\n", api.TotalRequests())

	fmt.Fprintf(w, "# HELP twmeter_request_duration_seconds Average exchange duration per endpoint\n")
	fmt.Fprintf(w, "# TYPE twmeter_request_duration_seconds gauge\n")
	for path, avg := range api.AverageDurations() {
		fmt.Fprintf(w, "twmeter_request_duration_seconds{endpoint=%q} %f\n", path, avg)
	}
}
