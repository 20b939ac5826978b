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
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// UsageMonitor schedules and executes aggregation runs: fetch the
// publication window day by day, aggregate the readings into hourly
// consumption and cost statistics and commit them to the store.
type UsageMonitor struct {
	client *ThamesWaterClient
	store  *StatisticsStore
	state  *StateManager
	calc   *CostCalculator
	logger *Logger
	rm     *RunMetrics

	fetchHours    []int
	triggerMinute int

	runMu  sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewUsageMonitor creates a monitor wired to the given collaborators
func NewUsageMonitor(client *ThamesWaterClient, store *StatisticsStore, state *StateManager, calc *CostCalculator, fetchHours []int, logger *Logger) *UsageMonitor {
	return &UsageMonitor{
		client:     client,
		store:      store,
		state:      state,
		calc:       calc,
		logger:     logger.WithComponent("usage_monitor"),
		rm:         NewRunMetrics(),
		fetchHours: fetchHours,
		// Spread runs across the trigger hour so restarts don't all
		// hit the portal on the exact hour
		triggerMinute: rand.Intn(TriggerMinuteJitter + 1),
		stopCh:        make(chan struct{}),
	}
}

// RunMetrics exposes the monitor's run counters
func (m *UsageMonitor) RunMetrics() *RunMetrics {
	return m.rm
}

// Start begins the daemon schedule. Each configured hour of day
// triggers one run, at the monitor's jittered minute.
func (m *UsageMonitor) Start() {
	m.logger.Info("Starting usage monitor",
		"fetch_hours", fmt.Sprint(m.fetchHours),
		"trigger_minute", m.triggerMinute,
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(SchedulerTickInterval)
		defer ticker.Stop()

		var lastTrigger string
		for {
			select {
			case <-m.stopCh:
				return
			case now := <-ticker.C:
				if !m.shouldTrigger(now) {
					continue
				}
				// One run per trigger hour
				key := now.Format("2006-01-02T15")
				if key == lastTrigger {
					continue
				}
				lastTrigger = key
				m.launchRun()
			}
		}
	}()
}

// launchRun executes one run off the scheduler goroutine, tracked so
// Stop waits for it
func (m *UsageMonitor) launchRun() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.RunOnce(context.Background()); err != nil {
			m.logger.Error("Scheduled run failed", "error", err.Error())
		}
	}()
}

// Stop halts the daemon schedule and waits for the scheduler
// goroutine and any run it launched
func (m *UsageMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("Usage monitor stopped")
}

func (m *UsageMonitor) shouldTrigger(now time.Time) bool {
	if now.Minute() != m.triggerMinute {
		return false
	}
	for _, hour := range m.fetchHours {
		if now.Hour() == hour {
			return true
		}
	}
	return false
}

// RunOnce executes a single aggregation run. Overlapping invocations
// are rejected; a failed day is skipped, a failed authentication
// aborts the run.
func (m *UsageMonitor) RunOnce(ctx context.Context) error {
	if !m.runMu.TryLock() {
		m.logger.Warn("Run already in progress, skipping")
		return nil
	}
	defer m.runMu.Unlock()

	started := time.Now()
	m.logger.Info("Starting aggregation run")

	err := m.run(ctx)

	appState := m.state.Load()
	appState.LastRun = started
	if err != nil {
		appState.LastRunError = err.Error()
	} else {
		appState.LastRunError = ""
	}
	if saveErr := m.state.Save(appState); saveErr != nil {
		m.logger.Warn("Failed to save run state", "error", saveErr.Error())
	}

	m.rm.RecordRun(err == nil)
	return err
}

func (m *UsageMonitor) run(ctx context.Context) error {
	consSeed, costSeed := m.loadSeeds(ctx)

	start, end := m.window(consSeed)
	m.logger.Info("Fetch window",
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
		"cold_start", consSeed == nil,
	)

	var readings []Reading
	var latestTotal float64
	var haveTotal bool

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		result, err := m.client.FetchDay(ctx, d.Year(), d.Month(), d.Day())
		if err != nil {
			if IsAuthError(err) {
				// No point fetching further days without a session
				m.rm.AuthFailures.Add(1)
				return err
			}
			m.rm.DaysFailed.Add(1)
			m.logger.LogDaySkipped(d.Format("2006-01-02"), err.Error())
			continue
		}
		if !result.Available {
			m.rm.DaysUnavailable.Add(1)
			continue
		}

		m.rm.DaysFetched.Add(1)
		readings = append(readings, result.Readings...)
		latestTotal = result.Total
		haveTotal = true
	}

	if len(readings) == 0 {
		m.logger.Info("No new usage data in window")
		return nil
	}

	consPoints := GenerateStatistics(readings, consSeed, nil)
	costPoints := GenerateStatistics(readings, costSeed, func(liters float64) float64 {
		return m.calc.CostFor(liters)
	})

	if err := m.store.CommitPoints(ctx, SeriesConsumption, consPoints); err != nil {
		return err
	}
	if err := m.store.CommitPoints(ctx, SeriesCost, costPoints); err != nil {
		return err
	}
	m.rm.PointsCommitted.Add(int64(len(consPoints) + len(costPoints)))

	if haveTotal {
		appState := m.state.Load()
		appState.CurrentReading = latestTotal
		if err := m.state.Save(appState); err != nil {
			m.logger.Warn("Failed to save current reading", "error", err.Error())
		}
	}

	m.logger.Info("Aggregation run complete",
		"readings", len(readings),
		"consumption_points", len(consPoints),
		"cost_points", len(costPoints),
	)
	return nil
}

// loadSeeds fetches the resumption seeds for both series. If either
// lookup fails or times out, both series restart cold; seeding one and
// not the other would let their windows drift apart.
func (m *UsageMonitor) loadSeeds(ctx context.Context) (*AggregationState, *AggregationState) {
	lookupCtx, cancel := context.WithTimeout(ctx, StateLookupTimeout)
	defer cancel()

	consSeed, consErr := m.store.LastState(lookupCtx, SeriesConsumption)
	costSeed, costErr := m.store.LastState(lookupCtx, SeriesCost)
	if consErr != nil || costErr != nil {
		m.logger.Warn("State lookup failed, falling back to cold start",
			"consumption_error", errString(consErr),
			"cost_error", errString(costErr),
		)
		return nil, nil
	}
	return consSeed, costSeed
}

// window computes the fetch window. The end is anchored behind the
// current date by the portal's reporting lag. With a seed the window
// resumes from the seed's day, but always re-covers the last few days
// so late-arriving revisions are picked up; the aggregation filter
// keeps the overlap from double-counting.
func (m *UsageMonitor) window(seed *AggregationState) (time.Time, time.Time) {
	now := time.Now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local).
		AddDate(0, 0, -ReportingLagDays)

	start := end.AddDate(0, 0, -ColdStartLookbackDays)
	if seed != nil {
		seedLocal := seed.Start.Local()
		seedDay := time.Date(seedLocal.Year(), seedLocal.Month(), seedLocal.Day(), 0, 0, 0, 0, time.Local)
		incremental := end.AddDate(0, 0, -IncrementalLookbackDays)
		if seedDay.Before(incremental) {
			start = seedDay
		} else {
			start = incremental
		}
	}
	return start, end
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
