// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/noldarim/edumesh/internal/orchestrator/models"

	"gorm.io/gorm"
)

// StudentFilter narrows a student listing. StudentNo and Name match
// substrings; the other fields match exactly. Zero values mean "no
// restriction".
type StudentFilter struct {
	StudentNo     string
	Name          string
	ClassName     string
	Grade         string
	Major         string
	IsActive      *bool
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Offset        int
	Limit         int
}

// CreateStudent inserts a single student.
func (db *GormDB) CreateStudent(ctx context.Context, student *models.Student) error {
	return db.db.WithContext(ctx).Create(student).Error
}

// GetStudent returns the student with id, or gorm.ErrRecordNotFound.
func (db *GormDB) GetStudent(ctx context.Context, id uint) (*models.Student, error) {
	var student models.Student
	if err := db.db.WithContext(ctx).First(&student, id).Error; err != nil {
		return nil, err
	}
	return &student, nil
}

// GetStudentByNo returns the student with the given student number, or
// gorm.ErrRecordNotFound.
func (db *GormDB) GetStudentByNo(ctx context.Context, studentNo string) (*models.Student, error) {
	var student models.Student
	if err := db.db.WithContext(ctx).Where("student_no = ?", studentNo).First(&student).Error; err != nil {
		return nil, err
	}
	return &student, nil
}

// UpdateStudent applies column updates to the student with id and returns
// the stored row. Map updates let false and empty values through.
func (db *GormDB) UpdateStudent(ctx context.Context, id uint, updates map[string]any) (*models.Student, error) {
	student, err := db.GetStudent(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := db.db.WithContext(ctx).Model(student).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return db.GetStudent(ctx, id)
}

// QueryStudents returns one page of students matching f, ordered by
// student number, and the total number of matches.
func (db *GormDB) QueryStudents(ctx context.Context, f StudentFilter) ([]models.Student, int64, error) {
	tx := db.db.WithContext(ctx).Model(&models.Student{})

	if f.StudentNo != "" {
		tx = tx.Where("student_no LIKE ?", "%"+f.StudentNo+"%")
	}
	if f.Name != "" {
		tx = tx.Where("name LIKE ?", "%"+f.Name+"%")
	}
	if f.ClassName != "" {
		tx = tx.Where("class_name = ?", f.ClassName)
	}
	if f.Grade != "" {
		tx = tx.Where("grade = ?", f.Grade)
	}
	if f.Major != "" {
		tx = tx.Where("major = ?", f.Major)
	}
	if f.IsActive != nil {
		tx = tx.Where("is_active = ?", *f.IsActive)
	}
	if !f.CreatedAfter.IsZero() {
		tx = tx.Where("created_at >= ?", f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		tx = tx.Where("created_at <= ?", f.CreatedBefore)
	}

	// Count and Find each branch off a shareable copy of the filtered query.
	tx = tx.Session(&gorm.Session{})

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var students []models.Student
	page := tx.Order("student_no ASC").Offset(f.Offset)
	if f.Limit > 0 {
		page = page.Limit(f.Limit)
	}
	if err := page.Find(&students).Error; err != nil {
		return nil, 0, err
	}
	return students, total, nil
}

// CountStudents counts students, only active ones when activeOnly is set.
func (db *GormDB) CountStudents(ctx context.Context, activeOnly bool) (int64, error) {
	var n int64
	tx := db.db.WithContext(ctx).Model(&models.Student{})
	if activeOnly {
		tx = tx.Where("is_active = ?", true)
	}
	if err := tx.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

var groupableStudentColumns = []string{"class_name", "grade", "major", "gender"}

// CountActiveStudentsBy groups active students by column (class_name,
// grade, major or gender) and counts each group.
func (db *GormDB) CountActiveStudentsBy(ctx context.Context, column string) (map[string]int64, error) {
	if !slices.Contains(groupableStudentColumns, column) {
		return nil, fmt.Errorf("cannot group students by %q", column)
	}

	var rows []struct {
		GroupKey   string
		GroupCount int64
	}
	err := db.db.WithContext(ctx).Model(&models.Student{}).
		Select(column+" AS group_key, COUNT(id) AS group_count").
		Where("is_active = ?", true).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.GroupKey] = r.GroupCount
	}
	return out, nil
}
