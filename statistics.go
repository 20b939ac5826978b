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
	"sort"
	"time"
)

// Reading is a single meter usage sample. The timestamp is the
// wall-clock label the portal published the sample under.
type Reading struct {
	Timestamp time.Time
	Usage     float64 // liters
	Estimated bool
}

// StatisticPoint is one hourly bucket of an aggregated series. Start
// is the bucket's start in UTC, Value the bucket total and Sum the
// running cumulative total across the whole series.
type StatisticPoint struct {
	Start time.Time `json:"start"`
	Value float64   `json:"value"`
	Sum   float64   `json:"sum"`
}

// AggregationState is the resumption seed for one series: the start of
// the last committed bucket and the cumulative sum through it.
type AggregationState struct {
	Start time.Time
	Sum   float64
}

// hourBucket maps a reading timestamp to the start of its owning
// hourly bucket, in UTC. A sample labelled exactly on the hour closes
// the previous hour: usage reported at 10:00 was consumed during the
// 09:00-10:00 interval.
func hourBucket(ts time.Time) time.Time {
	if ts.Minute() == 0 && ts.Second() == 0 && ts.Nanosecond() == 0 {
		return ts.Add(-time.Hour).UTC()
	}
	return ts.Truncate(time.Hour).UTC()
}

// GenerateStatistics aggregates readings into hourly statistic points
// with cumulative sums, optionally weighting each reading's usage
// through weight (pass nil for the raw consumption series).
//
// When prior is non-nil, readings whose bucket is not strictly after
// prior.Start are dropped and the cumulative sum continues from
// prior.Sum. Re-running over an overlapping window therefore never
// double-counts. The returned points are ordered by Start.
func GenerateStatistics(readings []Reading, prior *AggregationState, weight func(float64) float64) []StatisticPoint {
	if weight == nil {
		weight = func(v float64) float64 { return v }
	}

	sorted := make([]Reading, len(readings))
	copy(sorted, readings)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var points []StatisticPoint
	sum := 0.0
	if prior != nil {
		sum = prior.Sum
	}

	for _, r := range sorted {
		bucket := hourBucket(r.Timestamp)
		if prior != nil && !bucket.After(prior.Start) {
			// Already committed in a previous run
			continue
		}

		value := weight(r.Usage)
		if n := len(points); n > 0 && points[n-1].Start.Equal(bucket) {
			points[n-1].Value += value
			points[n-1].Sum += value
			sum = points[n-1].Sum
			continue
		}

		sum += value
		points = append(points, StatisticPoint{Start: bucket, Value: value, Sum: sum})
	}

	return points
}
