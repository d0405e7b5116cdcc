// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jeranaias/kgassist/internal/telemetry"
)

// SnapshotStore persists telemetry snapshots. It is a telemetry.SnapshotSink.
type SnapshotStore struct {
	db *DB
	// Keep bounds the stored history (0 = unlimited).
	Keep int
}

// NewSnapshotStore creates a snapshot store keeping the last 2016 snapshots
// (one week at five-minute intervals).
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db, Keep: 2016}
}

var _ telemetry.SnapshotSink = (*SnapshotStore)(nil)

// WriteSnapshot stores s and prunes old rows.
func (s *SnapshotStore) WriteSnapshot(ctx context.Context, snap telemetry.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := s.db.db.ExecContext(ctx,
		"INSERT INTO stats_snapshots (taken_at, total_queries, payload) VALUES (?, ?, ?)",
		snap.TakenAt.Unix(), snap.TotalQueries, string(payload)); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if s.Keep > 0 {
		if _, err := s.db.db.ExecContext(ctx, `
			DELETE FROM stats_snapshots WHERE id NOT IN (
				SELECT id FROM stats_snapshots ORDER BY id DESC LIMIT ?
			)`, s.Keep); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
	}
	return nil
}

// Recent returns up to n snapshots, newest first.
func (s *SnapshotStore) Recent(ctx context.Context, n int) ([]telemetry.Snapshot, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.db.QueryContext(ctx, "SELECT payload FROM stats_snapshots ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var snap telemetry.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
