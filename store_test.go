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
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *StatisticsStore {
	t.Helper()
	store, err := NewStatisticsStore(filepath.Join(t.TempDir(), "statistics.db"), NewLogger(false))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLastStateEmpty(t *testing.T) {
	store := newTestStore(t)

	state, err := store.LastState(context.Background(), SeriesConsumption)
	if err != nil {
		t.Fatalf("LastState failed: %v", err)
	}
	if state != nil {
		t.Errorf("Expected nil state for empty series, got %+v", state)
	}
}

func TestCommitAndResume(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	points := []StatisticPoint{
		{Start: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC), Value: 5, Sum: 5},
		{Start: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), Value: 3, Sum: 8},
	}
	if err := store.CommitPoints(ctx, SeriesConsumption, points); err != nil {
		t.Fatalf("CommitPoints failed: %v", err)
	}

	state, err := store.LastState(ctx, SeriesConsumption)
	if err != nil {
		t.Fatalf("LastState failed: %v", err)
	}
	if state == nil {
		t.Fatal("Expected a resumption state after commit")
	}
	if !state.Start.Equal(points[1].Start) {
		t.Errorf("Expected latest bucket %v, got %v", points[1].Start, state.Start)
	}
	if state.Sum != 8 {
		t.Errorf("Expected sum 8, got %g", state.Sum)
	}

	// The other series is untouched
	other, err := store.LastState(ctx, SeriesCost)
	if err != nil {
		t.Fatalf("LastState failed: %v", err)
	}
	if other != nil {
		t.Errorf("Expected nil state for cost series, got %+v", other)
	}
}

func TestCommitOverwritesBucket(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bucket := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	if err := store.CommitPoints(ctx, SeriesConsumption, []StatisticPoint{{Start: bucket, Value: 5, Sum: 5}}); err != nil {
		t.Fatalf("CommitPoints failed: %v", err)
	}
	// Re-commit the same bucket with a revised value
	if err := store.CommitPoints(ctx, SeriesConsumption, []StatisticPoint{{Start: bucket, Value: 6, Sum: 6}}); err != nil {
		t.Fatalf("Re-commit failed: %v", err)
	}

	points, err := store.RecentPoints(ctx, SeriesConsumption, 365)
	if err != nil {
		t.Fatalf("RecentPoints failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("Expected 1 point after re-commit, got %d", len(points))
	}
	if points[0].Value != 6 {
		t.Errorf("Expected revised value 6, got %g", points[0].Value)
	}
}

func TestCommitEmptyBatch(t *testing.T) {
	store := newTestStore(t)
	if err := store.CommitPoints(context.Background(), SeriesConsumption, nil); err != nil {
		t.Errorf("Empty batch should be a no-op, got %v", err)
	}
}

func TestRecentPointsWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Hour)
	points := []StatisticPoint{
		{Start: now.AddDate(0, 0, -30), Value: 1, Sum: 1},
		{Start: now.AddDate(0, 0, -2), Value: 2, Sum: 3},
		{Start: now.AddDate(0, 0, -1), Value: 3, Sum: 6},
	}
	if err := store.CommitPoints(ctx, SeriesConsumption, points); err != nil {
		t.Fatalf("CommitPoints failed: %v", err)
	}

	recent, err := store.RecentPoints(ctx, SeriesConsumption, 7)
	if err != nil {
		t.Fatalf("RecentPoints failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 points inside the window, got %d", len(recent))
	}
	if !recent[0].Start.Before(recent[1].Start) {
		t.Error("Expected points ordered by bucket start")
	}
}
