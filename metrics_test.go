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
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	f := newPortalFixture(t)
	state := newTestStateManager(t)
	state.Save(&AppState{
		CurrentReading: 42.5,
		LastRun:        time.Date(2026, 8, 25, 15, 4, 0, 0, time.UTC),
	})

	rm := NewRunMetrics()
	rm.RecordRun(true)
	rm.RecordRun(false)
	rm.DaysFetched.Add(3)
	rm.DaysUnavailable.Add(2)
	rm.PointsCommitted.Add(48)

	mc := NewMetricsCollector(f.newClient(), rm, state)

	rec := httptest.NewRecorder()
	mc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Unexpected content type %s", ct)
	}

	body := rec.Body.String()
	expected := []string{
		"twmeter_up 1",
		"twmeter_info{version=",
		"twmeter_current_reading_liters 42.5",
		"twmeter_runs_total 2",
		"twmeter_runs_failed_total 1",
		"twmeter_days_fetched_total 3",
		"twmeter_days_unavailable_total 2",
		"twmeter_points_committed_total 48",
		"twmeter_auth_failures_total 0",
		"twmeter_http_requests_total 0",
	}
	for _, metric := range expected {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %q in output", metric)
		}
	}

	lastRun := time.Date(2026, 8, 25, 15, 4, 0, 0, time.UTC).Unix()
	if !strings.Contains(body, "twmeter_last_run_timestamp_seconds") {
		t.Error("Expected last run timestamp metric")
	}
	if !strings.Contains(body, "twmeter_last_run_timestamp_seconds "+strconv.FormatInt(lastRun, 10)) {
		t.Errorf("Expected last run value %d in output", lastRun)
	}
}

func TestMetricsConcurrentScrape(t *testing.T) {
	f := newPortalFixture(t)
	f.usagePayload = usageDay([]UsageLine{{Label: "01:00", Usage: 5}})
	c := f.newClient()
	mc := NewMetricsCollector(c, NewRunMetrics(), newTestStateManager(t))

	// Scrape while a fetch records exchange metrics on another
	// goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			if _, err := c.FetchDay(context.Background(), 2026, 8, 20); err != nil {
				t.Errorf("FetchDay failed: %v", err)
				return
			}
		}
	}()

	for scraping := true; scraping; {
		select {
		case <-done:
			scraping = false
		default:
		}
		rec := httptest.NewRecorder()
		mc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "twmeter_request_duration_seconds{") {
		t.Error("Expected per-endpoint durations after fetches")
	}
}

func TestMetricsZeroState(t *testing.T) {
	f := newPortalFixture(t)
	mc := NewMetricsCollector(f.newClient(), NewRunMetrics(), newTestStateManager(t))

	rec := httptest.NewRecorder()
	mc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "twmeter_last_run_timestamp_seconds 0") {
		t.Error("Expected zero last run timestamp before any run")
	}
	if !strings.Contains(body, "twmeter_runs_total 0") {
		t.Error("Expected zero runs")
	}
}
