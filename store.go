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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const statisticsSchema = `
CREATE TABLE IF NOT EXISTS statistics (
	series       TEXT NOT NULL,
	bucket_start TEXT NOT NULL,
	value        REAL NOT NULL,
	sum          REAL NOT NULL,
	UNIQUE(series, bucket_start)
);
CREATE INDEX IF NOT EXISTS idx_statistics_series_start
	ON statistics(series, bucket_start);
`

// StatisticsStore persists hourly statistic points in SQLite. Bucket
// starts are stored as RFC 3339 UTC strings so lexical order matches
// time order.
type StatisticsStore struct {
	db     *sql.DB
	logger *Logger
}

// NewStatisticsStore opens (creating if needed) the statistics
// database at path and ensures the schema exists
func NewStatisticsStore(path string, logger *Logger) (*StatisticsStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; WAL keeps readers from blocking it
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(statisticsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &StatisticsStore{
		db:     db,
		logger: logger.WithComponent("statistics_store"),
	}, nil
}

// LastState returns the resumption seed for a series: the most recent
// committed bucket start and its cumulative sum. A series with no
// points yet returns (nil, nil).
func (s *StatisticsStore) LastState(ctx context.Context, series string) (*AggregationState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bucket_start, sum FROM statistics WHERE series = ? ORDER BY bucket_start DESC LIMIT 1`,
		series,
	)

	var bucketStart string
	var sum float64
	if err := row.Scan(&bucketStart, &sum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load state for series %q: %w", series, err)
	}

	start, err := time.Parse(time.RFC3339, bucketStart)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored bucket start %q: %w", bucketStart, err)
	}

	return &AggregationState{Start: start, Sum: sum}, nil
}

// CommitPoints writes a batch of statistic points for a series in one
// transaction. Re-committed buckets are overwritten, so replaying an
// overlapping window is safe.
func (s *StatisticsStore) CommitPoints(ctx context.Context, series string, points []StatisticPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO statistics (series, bucket_start, value, sum)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(series, bucket_start) DO UPDATE SET
			value = excluded.value,
			sum = excluded.sum`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, series, p.Start.UTC().Format(time.RFC3339), p.Value, p.Sum); err != nil {
			return fmt.Errorf("failed to insert point %s: %w", p.Start.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit points: %w", err)
	}

	s.logger.Debug("Committed statistic points",
		"series", series,
		"count", len(points),
	)
	return nil
}

// RecentPoints returns the series' points from the last N days,
// ordered by bucket start
func (s *StatisticsStore) RecentPoints(ctx context.Context, series string, days int) ([]StatisticPoint, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket_start, value, sum FROM statistics
		 WHERE series = ? AND bucket_start >= ?
		 ORDER BY bucket_start ASC`,
		series, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	var points []StatisticPoint
	for rows.Next() {
		var bucketStart string
		var p StatisticPoint
		if err := rows.Scan(&bucketStart, &p.Value, &p.Sum); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		p.Start, err = time.Parse(time.RFC3339, bucketStart)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored bucket start %q: %w", bucketStart, err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close checkpoints the WAL and closes the database
func (s *StatisticsStore) Close() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("WAL checkpoint failed", "error", err.Error())
	}
	return s.db.Close()
}
