// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage is the SQLite persistence layer of the assistant.
//
// One database file holds the kindergarten directory (classes, students,
// teachers, parents, activities, attendance, fees, enrollment), the
// conversation history and user memory used to build COMPLEX-tier context,
// and periodic stats snapshots.
//
// # Key Types
//
//   - DB: connection, schema and directory queries
//   - ConversationStore: history and memory, a dispatch.ConversationStore
//   - SnapshotStore: stats history, a telemetry.SnapshotSink
//
// # Usage
//
//	db, err := storage.Open(filepath.Join(dataDir, "kgassist.db"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	n, err := db.Count(ctx, storage.EntityStudents)
//
// The driver is modernc.org/sqlite (pure Go, no cgo).
package storage
