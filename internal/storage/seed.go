// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadySeeded is returned by Seed when the directory has students.
var ErrAlreadySeeded = errors.New("directory already has data")

// SeedSummary reports what Seed inserted.
type SeedSummary struct {
	Classes      int
	Students     int
	Teachers     int
	Parents      int
	Users        int
	Activities   int
	Applications int
}

var seedClasses = []struct{ name, grade string }{
	{"小一班", "小班"}, {"小二班", "小班"},
	{"中一班", "中班"}, {"中二班", "中班"},
	{"大一班", "大班"}, {"大二班", "大班"},
}

var seedSurnames = []string{"王", "李", "张", "刘", "陈", "杨", "赵", "黄", "周", "吴"}

var seedGiven = []string{"小明", "小红", "子涵", "欣怡", "浩然", "梓轩", "雨桐", "一诺", "思远", "可馨"}

var seedActivities = []struct {
	title, location string
	dayOffset       int
	status          string
	participants    int
}{
	{"晨间律动", "操场", 0, "ongoing", 118},
	{"绘本故事会", "阅读室", 0, "planned", 40},
	{"亲子运动会", "操场", 7, "planned", 0},
	{"春季郊游", "森林公园", -14, "completed", 96},
	{"消防安全演练", "全园", -30, "completed", 120},
	{"手工制作课", "美工室", -3, "cancelled", 0},
}

// Seed inserts a deterministic demo kindergarten: six classes of twenty
// students, two teachers per class, one parent per student, a week of
// activities around now, today's attendance, this month's fees and a set of
// enrollment applications.
func (d *DB) Seed(ctx context.Context, now time.Time) (*SeedSummary, error) {
	n, err := d.Count(ctx, EntityStudents)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrAlreadySeeded
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sum := &SeedSummary{}
	today := now.Format(DateLayout)
	dueDate := time.Date(now.Year(), now.Month(), 10, 0, 0, 0, 0, now.Location()).Format(DateLayout)

	for ci, c := range seedClasses {
		classID, err := insertID(ctx, tx, "INSERT INTO classes (name, grade, capacity) VALUES (?, ?, 25)", c.name, c.grade)
		if err != nil {
			return nil, fmt.Errorf("seed class: %w", err)
		}
		sum.Classes++

		for t := 0; t < 2; t++ {
			name := seedSurnames[(ci*2+t)%len(seedSurnames)] + "老师"
			if _, err := tx.ExecContext(ctx, "INSERT INTO teachers (name, class_id) VALUES (?, ?)", name, classID); err != nil {
				return nil, fmt.Errorf("seed teacher: %w", err)
			}
			sum.Teachers++
		}

		for s := 0; s < 20; s++ {
			i := ci*20 + s
			name := seedSurnames[i%len(seedSurnames)] + seedGiven[(i/len(seedSurnames))%len(seedGiven)]
			gender := "男"
			if s%2 == 1 {
				gender = "女"
			}
			enrolled := now.AddDate(0, -(i % 24), 0).Unix()
			studentID, err := insertID(ctx, tx,
				"INSERT INTO students (name, class_id, gender, enrolled_at) VALUES (?, ?, ?, ?)",
				name, classID, gender, enrolled)
			if err != nil {
				return nil, fmt.Errorf("seed student: %w", err)
			}
			sum.Students++

			if _, err := tx.ExecContext(ctx, "INSERT INTO parents (name, phone, student_id) VALUES (?, ?, ?)",
				name+"家长", fmt.Sprintf("1380000%04d", i), studentID); err != nil {
				return nil, fmt.Errorf("seed parent: %w", err)
			}
			sum.Parents++

			// Every tenth student is absent today; every fourth has not paid.
			present := 1
			if i%10 == 9 {
				present = 0
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO attendance (student_id, day, present) VALUES (?, ?, ?)",
				studentID, today, present); err != nil {
				return nil, fmt.Errorf("seed attendance: %w", err)
			}
			paid := 1
			if i%4 == 3 {
				paid = 0
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO fees (student_id, amount_cents, paid, due_date) VALUES (?, ?, ?, ?)",
				studentID, 180000, paid, dueDate); err != nil {
				return nil, fmt.Errorf("seed fee: %w", err)
			}
		}
	}

	for _, a := range seedActivities {
		day := now.AddDate(0, 0, a.dayOffset).Format(DateLayout)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO activities (title, activity_date, location, status, participants) VALUES (?, ?, ?, ?, ?)",
			a.title, day, a.location, a.status, a.participants); err != nil {
			return nil, fmt.Errorf("seed activity: %w", err)
		}
		sum.Activities++
	}

	statuses := []string{"accepted", "accepted", "pending", "rejected", "pending"}
	for i := 0; i < 15; i++ {
		applied := now.AddDate(0, 0, -i*4).Unix()
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO enrollment_applications (child_name, status, applied_at) VALUES (?, ?, ?)",
			seedSurnames[i%len(seedSurnames)]+"宝宝", statuses[i%len(statuses)], applied); err != nil {
			return nil, fmt.Errorf("seed application: %w", err)
		}
		sum.Applications++
	}

	for _, u := range []struct{ id, name, role string }{
		{"admin", "园长", "admin"},
		{"principal", "副园长", "principal"},
		{"teacher-1", "王老师", "teacher"},
	} {
		if _, err := tx.ExecContext(ctx, "INSERT INTO users (id, name, role) VALUES (?, ?, ?)", u.id, u.name, u.role); err != nil {
			return nil, fmt.Errorf("seed user: %w", err)
		}
		sum.Users++
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sum, nil
}

func insertID(ctx context.Context, tx *sql.Tx, q string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
