// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/telemetry"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "kgassist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var seedTime = time.Date(2025, 3, 18, 9, 30, 0, 0, time.Local)

func seededDB(t *testing.T) *DB {
	t.Helper()
	db := openTestDB(t)
	_, err := db.Seed(context.Background(), seedTime)
	require.NoError(t, err)
	return db
}

func TestOpen(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Ping(ctx))
	v, err := db.Metadata(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(SchemaVersion), v)

	_, err = db.Metadata(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Open("")
	assert.Error(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kgassist.db")
	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Seed(context.Background(), seedTime)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.Count(context.Background(), EntityStudents)
	require.NoError(t, err)
	assert.Equal(t, 120, n)
}

func TestSeed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sum, err := db.Seed(ctx, seedTime)
	require.NoError(t, err)
	assert.Equal(t, &SeedSummary{
		Classes: 6, Students: 120, Teachers: 12, Parents: 120, Users: 3, Activities: 6, Applications: 15,
	}, sum)

	_, err = db.Seed(ctx, seedTime)
	assert.ErrorIs(t, err, ErrAlreadySeeded)
}

func TestCount(t *testing.T) {
	db := seededDB(t)
	ctx := context.Background()

	tests := []struct {
		entity Entity
		want   int
	}{
		{EntityStudents, 120},
		{EntityTeachers, 12},
		{EntityClasses, 6},
		{EntityParents, 120},
		{EntityUsers, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.entity), func(t *testing.T) {
			n, err := db.Count(ctx, tt.entity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	_, err := db.Count(ctx, Entity("sqlite_master"))
	assert.Error(t, err)
}

func TestDirectoryStats(t *testing.T) {
	db := seededDB(t)
	ctx := context.Background()

	t.Run("students", func(t *testing.T) {
		s, err := db.StudentStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 120, s.Total)
		assert.Equal(t, 120, s.Active)
		assert.Equal(t, 150, s.Capacity)
		assert.Equal(t, map[string]int{"小班": 40, "中班": 40, "大班": 40}, s.ByGrade)
		assert.Equal(t, map[string]int{"男": 60, "女": 60}, s.ByGender)
	})

	t.Run("activities today", func(t *testing.T) {
		acts, err := db.ActivitiesOn(ctx, seedTime)
		require.NoError(t, err)
		require.Len(t, acts, 2)
		assert.Equal(t, "晨间律动", acts[0].Title)

		acts, err = db.ActivitiesOn(ctx, seedTime.AddDate(0, 0, -3))
		require.NoError(t, err)
		assert.Empty(t, acts, "cancelled activities are hidden")
	})

	t.Run("activity list", func(t *testing.T) {
		acts, err := db.Activities(ctx, 3)
		require.NoError(t, err)
		require.Len(t, acts, 3)
		assert.Equal(t, "亲子运动会", acts[0].Title)
	})

	t.Run("activity stats", func(t *testing.T) {
		s, err := db.ActivityStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, s.Total)
		assert.Equal(t, 2, s.ByStatus["completed"])
		assert.Equal(t, 1, s.ByStatus["cancelled"])
	})

	t.Run("attendance", func(t *testing.T) {
		s, err := db.AttendanceOn(ctx, seedTime)
		require.NoError(t, err)
		assert.Equal(t, 108, s.Present)
		assert.Equal(t, 12, s.Absent)
		assert.Equal(t, 90.0, s.Rate)

		s, err = db.AttendanceOn(ctx, seedTime.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.Zero(t, s.Rate)
	})

	t.Run("fees", func(t *testing.T) {
		s, err := db.FeesForMonth(ctx, seedTime)
		require.NoError(t, err)
		assert.Equal(t, "2025-03", s.Month)
		assert.Equal(t, int64(21600000), s.TotalCents)
		assert.Equal(t, int64(16200000), s.PaidCents)
		assert.Equal(t, int64(5400000), s.UnpaidCents)
		assert.Equal(t, 90, s.PaidStudents)
		assert.Equal(t, 30, s.UnpaidStudents)
		assert.Equal(t, 75.0, s.CollectionRate)
	})

	t.Run("enrollment", func(t *testing.T) {
		s, err := db.EnrollmentStats(ctx, seedTime)
		require.NoError(t, err)
		assert.Equal(t, 15, s.Total)
		assert.Equal(t, 6, s.Accepted)
		assert.Equal(t, 6, s.Pending)
		assert.Equal(t, 3, s.Rejected)
		assert.Equal(t, 40.0, s.ConversionRate)
		assert.Equal(t, 5, s.ThisMonth)
	})
}

func TestConversationStore_History(t *testing.T) {
	store := NewConversationStore(openTestDB(t))
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	for i := 0; i < 6; i++ {
		role := dispatch.RoleUser
		if i%2 == 1 {
			role = dispatch.RoleAssistant
		}
		require.NoError(t, store.Append(ctx, dispatch.Turn{
			ConversationID: "c-1",
			UserID:         "u-1",
			Role:           role,
			Content:        fmt.Sprintf("turn %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.Append(ctx, dispatch.Turn{ConversationID: "c-2", UserID: "u-1", Role: dispatch.RoleUser, Content: "other"}))

	turns, err := store.History(ctx, "c-1", 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "turn 2", turns[0].Content, "oldest of the last four first")
	assert.Equal(t, "turn 5", turns[3].Content)
	assert.NotEmpty(t, turns[0].ID)
	assert.Equal(t, base.Add(2*time.Second), turns[0].CreatedAt)

	turns, err = store.History(ctx, "c-1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns, err = store.History(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, store.DeleteConversation(ctx, "c-2"))
	assert.ErrorIs(t, store.DeleteConversation(ctx, "c-2"), ErrNotFound)
}

func TestConversationStore_TrimsToMaxTurns(t *testing.T) {
	store := NewConversationStore(openTestDB(t))
	store.MaxTurns = 3
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, dispatch.Turn{ConversationID: "c", UserID: "u", Role: dispatch.RoleUser, Content: fmt.Sprint(i)}))
	}
	turns, err := store.History(ctx, "c", 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "2", turns[0].Content)
}

func TestConversationStore_Memory(t *testing.T) {
	store := NewConversationStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Remember(ctx, "u-1", "class", "负责大一班", 0.9))
	require.NoError(t, store.Remember(ctx, "u-1", "tone", "偏好简短回答", 0.4))
	require.NoError(t, store.Remember(ctx, "u-1", "focus", "关注出勤率", 2))
	require.NoError(t, store.Remember(ctx, "u-2", "class", "负责小一班", 0.9))

	mem, err := store.Memory(ctx, "u-1", 5)
	require.NoError(t, err)
	require.Len(t, mem, 3)
	assert.Equal(t, "focus", mem[0].Key)
	assert.Equal(t, 1.0, mem[0].Importance, "importance is clamped")
	assert.Equal(t, "tone", mem[2].Key)

	require.NoError(t, store.Remember(ctx, "u-1", "tone", "偏好详细回答", 0.1))
	mem, err = store.Memory(ctx, "u-1", 2)
	require.NoError(t, err)
	require.Len(t, mem, 2)
	assert.Equal(t, "class", mem[1].Key)

	require.NoError(t, store.Forget(ctx, "u-1", "focus"))
	mem, err = store.Memory(ctx, "u-1", 5)
	require.NoError(t, err)
	assert.Len(t, mem, 2)
}

func TestConversationStore_ConcurrentAppend(t *testing.T) {
	store := NewConversationStore(openTestDB(t))
	store.MaxTurns = 0
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Append(ctx,
				dispatch.Turn{ConversationID: "c", UserID: "u", Role: dispatch.RoleUser, Content: fmt.Sprint(i)},
				dispatch.Turn{ConversationID: "c", UserID: "u", Role: dispatch.RoleAssistant, Content: fmt.Sprint(i)},
			))
		}(i)
	}
	wg.Wait()

	turns, err := store.History(ctx, "c", 100)
	require.NoError(t, err)
	require.Len(t, turns, 40)
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, dispatch.RoleUser, turns[i].Role, "pairs stay adjacent")
		assert.Equal(t, turns[i].Content, turns[i+1].Content)
	}
}

func TestSnapshotStore(t *testing.T) {
	store := NewSnapshotStore(openTestDB(t))
	store.Keep = 2
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.WriteSnapshot(ctx, telemetry.Snapshot{
			TotalQueries: int64(i),
			TakenAt:      time.Unix(int64(1700000000+i), 0),
		}))
	}

	snaps, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(3), snaps[0].TotalQueries)
	assert.Equal(t, int64(2), snaps[1].TotalQueries)
}
