// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"time"
)

// DateLayout is the layout of day columns (activity_date, attendance.day).
const DateLayout = "2006-01-02"

// Entity names a countable directory table.
type Entity string

const (
	EntityStudents Entity = "students"
	EntityTeachers Entity = "teachers"
	EntityClasses  Entity = "classes"
	EntityParents  Entity = "parents"
	EntityUsers    Entity = "users"
)

// countQueries only reference fixed table names.
var countQueries = map[Entity]string{
	EntityStudents: "SELECT COUNT(*) FROM students WHERE status = 'active'",
	EntityTeachers: "SELECT COUNT(*) FROM teachers WHERE status = 'active'",
	EntityClasses:  "SELECT COUNT(*) FROM classes",
	EntityParents:  "SELECT COUNT(*) FROM parents",
	EntityUsers:    "SELECT COUNT(*) FROM users",
}

// Count returns the number of active rows for an entity.
func (d *DB) Count(ctx context.Context, e Entity) (int, error) {
	q, ok := countQueries[e]
	if !ok {
		return 0, fmt.Errorf("unknown entity %q", e)
	}
	var n int
	if err := d.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", e, err)
	}
	return n, nil
}

// =============================================================================
// STUDENTS
// =============================================================================

// StudentStats summarizes enrollment by status and grade.
type StudentStats struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	ByGrade  map[string]int `json:"byGrade"`
	ByGender map[string]int `json:"byGender"`
	Capacity int            `json:"capacity"`
}

// StudentStats aggregates the students table.
func (d *DB) StudentStats(ctx context.Context) (*StudentStats, error) {
	s := &StudentStats{ByGrade: map[string]int{}, ByGender: map[string]int{}}

	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0)
		FROM students`).Scan(&s.Total, &s.Active)
	if err != nil {
		return nil, fmt.Errorf("student totals: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(capacity), 0) FROM classes").Scan(&s.Capacity); err != nil {
		return nil, fmt.Errorf("class capacity: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT c.grade, COUNT(*) FROM students s
		JOIN classes c ON c.id = s.class_id
		WHERE s.status = 'active'
		GROUP BY c.grade`)
	if err != nil {
		return nil, fmt.Errorf("students by grade: %w", err)
	}
	if err := scanCounts(rows, s.ByGrade); err != nil {
		return nil, err
	}

	rows, err = d.db.QueryContext(ctx, `
		SELECT COALESCE(gender, '未知'), COUNT(*) FROM students
		WHERE status = 'active'
		GROUP BY gender`)
	if err != nil {
		return nil, fmt.Errorf("students by gender: %w", err)
	}
	if err := scanCounts(rows, s.ByGender); err != nil {
		return nil, err
	}
	return s, nil
}

// =============================================================================
// ACTIVITIES
// =============================================================================

// Activity is one scheduled kindergarten activity.
type Activity struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Date         string `json:"date"`
	Location     string `json:"location"`
	Status       string `json:"status"`
	Participants int    `json:"participants"`
}

// ActivitiesOn returns activities scheduled for day, excluding cancelled ones.
func (d *DB) ActivitiesOn(ctx context.Context, day time.Time) ([]Activity, error) {
	return d.queryActivities(ctx, `
		SELECT id, title, activity_date, COALESCE(location, ''), status, participants
		FROM activities
		WHERE activity_date = ? AND status != 'cancelled'
		ORDER BY id`, day.Format(DateLayout))
}

// Activities returns the most recent activities, newest first.
func (d *DB) Activities(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 10
	}
	return d.queryActivities(ctx, `
		SELECT id, title, activity_date, COALESCE(location, ''), status, participants
		FROM activities
		ORDER BY activity_date DESC, id DESC
		LIMIT ?`, limit)
}

func (d *DB) queryActivities(ctx context.Context, q string, args ...any) ([]Activity, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.Title, &a.Date, &a.Location, &a.Status, &a.Participants); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActivityStats summarizes activities by status.
type ActivityStats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"byStatus"`
	AvgParticipants float64        `json:"avgParticipants"`
}

// ActivityStats aggregates the activities table.
func (d *DB) ActivityStats(ctx context.Context) (*ActivityStats, error) {
	s := &ActivityStats{ByStatus: map[string]int{}}
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(AVG(participants), 0) FROM activities").Scan(&s.Total, &s.AvgParticipants)
	if err != nil {
		return nil, fmt.Errorf("activity totals: %w", err)
	}
	rows, err := d.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM activities GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("activities by status: %w", err)
	}
	if err := scanCounts(rows, s.ByStatus); err != nil {
		return nil, err
	}
	return s, nil
}

// =============================================================================
// ATTENDANCE, FEES, ENROLLMENT
// =============================================================================

// AttendanceStats is one day's attendance.
type AttendanceStats struct {
	Day     string  `json:"day"`
	Present int     `json:"present"`
	Absent  int     `json:"absent"`
	Rate    float64 `json:"rate"` // percent
}

// AttendanceOn aggregates attendance records for day.
func (d *DB) AttendanceOn(ctx context.Context, day time.Time) (*AttendanceStats, error) {
	s := &AttendanceStats{Day: day.Format(DateLayout)}
	err := d.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(present), 0), COALESCE(SUM(1 - present), 0)
		FROM attendance WHERE day = ?`, s.Day).Scan(&s.Present, &s.Absent)
	if err != nil {
		return nil, fmt.Errorf("attendance: %w", err)
	}
	s.Rate = percent(s.Present, s.Present+s.Absent)
	return s, nil
}

// FeeStats totals one month of fees. Amounts are in cents.
type FeeStats struct {
	Month          string  `json:"month"`
	TotalCents     int64   `json:"totalCents"`
	PaidCents      int64   `json:"paidCents"`
	UnpaidCents    int64   `json:"unpaidCents"`
	PaidStudents   int     `json:"paidStudents"`
	UnpaidStudents int     `json:"unpaidStudents"`
	CollectionRate float64 `json:"collectionRate"` // percent
}

// FeesForMonth aggregates fees whose due date falls in month.
func (d *DB) FeesForMonth(ctx context.Context, month time.Time) (*FeeStats, error) {
	s := &FeeStats{Month: month.Format("2006-01")}
	err := d.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount_cents), 0),
			COALESCE(SUM(CASE WHEN paid = 1 THEN amount_cents ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN paid = 1 THEN student_id END),
			COUNT(DISTINCT CASE WHEN paid = 0 THEN student_id END)
		FROM fees WHERE substr(due_date, 1, 7) = ?`, s.Month,
	).Scan(&s.TotalCents, &s.PaidCents, &s.PaidStudents, &s.UnpaidStudents)
	if err != nil {
		return nil, fmt.Errorf("fees: %w", err)
	}
	s.UnpaidCents = s.TotalCents - s.PaidCents
	if s.TotalCents > 0 {
		s.CollectionRate = round1(float64(s.PaidCents) / float64(s.TotalCents) * 100)
	}
	return s, nil
}

// EnrollmentStats summarizes enrollment applications.
type EnrollmentStats struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	Accepted       int     `json:"accepted"`
	Rejected       int     `json:"rejected"`
	ThisMonth      int     `json:"thisMonth"`
	ConversionRate float64 `json:"conversionRate"` // percent
}

// EnrollmentStats aggregates applications; ThisMonth counts those applied
// since the start of now's month.
func (d *DB) EnrollmentStats(ctx context.Context, now time.Time) (*EnrollmentStats, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Unix()
	s := &EnrollmentStats{}
	err := d.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'accepted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN applied_at >= ? THEN 1 ELSE 0 END), 0)
		FROM enrollment_applications`, monthStart,
	).Scan(&s.Total, &s.Pending, &s.Accepted, &s.Rejected, &s.ThisMonth)
	if err != nil {
		return nil, fmt.Errorf("enrollment: %w", err)
	}
	s.ConversionRate = percent(s.Accepted, s.Total)
	return s, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanCounts(rows rowScanner, into map[string]int) error {
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		into[k] = n
	}
	return rows.Err()
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round1(float64(part) / float64(whole) * 100)
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
