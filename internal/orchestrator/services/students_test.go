// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"testing"

	"github.com/noldarim/edumesh/internal/orchestrator/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createRoster(t *testing.T, ds *DataService) []models.Student {
	t.Helper()
	roster := []models.Student{
		{StudentNo: "2024001", Name: "Ada Lovelace", ClassName: "CS-1", Grade: "2024", Major: "Computer Science"},
		{StudentNo: "2024002", Name: "Alan Turing", ClassName: "CS-1", Grade: "2024", Major: "Computer Science"},
		{StudentNo: "2023001", Name: "Grace Hopper", ClassName: "CS-2", Grade: "2023", Major: "Software Engineering"},
	}
	for i := range roster {
		require.NoError(t, ds.CreateStudent(context.Background(), &roster[i]))
	}
	return roster
}

func TestDataService_CreateStudent(t *testing.T) {
	ds := WithDataService(t).Service
	ctx := context.Background()

	s := &models.Student{StudentNo: " S1 ", Name: "Ada", IsActive: false}
	require.NoError(t, ds.CreateStudent(ctx, s))
	assert.NotZero(t, s.ID)
	assert.Equal(t, "S1", s.StudentNo)
	assert.True(t, s.IsActive, "new students start active")

	err := ds.CreateStudent(ctx, &models.Student{StudentNo: "S1", Name: "Other"})
	assert.True(t, errors.Is(err, ErrDuplicateStudent))

	tests := []struct {
		name    string
		student models.Student
		want    string
	}{
		{"missing number", models.Student{Name: "Ada"}, "student_no is required"},
		{"blank name", models.Student{StudentNo: "S2", Name: "  "}, "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ds.CreateStudent(ctx, &tt.student)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidStudent))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDataService_StudentLookups(t *testing.T) {
	ds := WithDataService(t).Service
	ctx := context.Background()
	roster := createRoster(t, ds)

	got, err := ds.Student(ctx, roster[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "Alan Turing", got.Name)

	got, err = ds.StudentByNo(ctx, "2023001")
	require.NoError(t, err)
	assert.Equal(t, roster[2].ID, got.ID)

	_, err = ds.Student(ctx, 9999)
	assert.Equal(t, ErrStudentNotFound, err)
	_, err = ds.StudentByNo(ctx, "nope")
	assert.Equal(t, ErrStudentNotFound, err)
}

func TestDataService_UpdateAndDeleteStudent(t *testing.T) {
	ds := WithDataService(t).Service
	ctx := context.Background()
	roster := createRoster(t, ds)

	updated, err := ds.UpdateStudent(ctx, roster[0].ID, map[string]any{"class_name": "CS-2", "notes": ""})
	require.NoError(t, err)
	assert.Equal(t, "CS-2", updated.ClassName)
	assert.Equal(t, "Ada Lovelace", updated.Name, "untouched fields keep their value")

	tests := []struct {
		name    string
		updates map[string]any
	}{
		{"student number", map[string]any{"student_no": "X"}},
		{"id", map[string]any{"id": 7}},
		{"unknown", map[string]any{"nickname": "Countess"}},
		{"empty name", map[string]any{"name": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ds.UpdateStudent(ctx, roster[0].ID, tt.updates)
			assert.True(t, errors.Is(err, ErrInvalidStudent))
		})
	}

	_, err = ds.UpdateStudent(ctx, 9999, map[string]any{"grade": "2025"})
	assert.Equal(t, ErrStudentNotFound, err)

	require.NoError(t, ds.DeleteStudent(ctx, roster[1].ID))
	gone, err := ds.Student(ctx, roster[1].ID)
	require.NoError(t, err, "deletion keeps the row")
	assert.False(t, gone.IsActive)
	assert.Equal(t, ErrStudentNotFound, ds.DeleteStudent(ctx, 9999))

	class, err := ds.ClassStudents(ctx, "CS-1")
	require.NoError(t, err)
	assert.Empty(t, class, "Ada moved away and Alan is inactive")

	class, err = ds.ClassStudents(ctx, "CS-2")
	require.NoError(t, err)
	assert.Len(t, class, 2)
}

func TestDataService_ListStudents(t *testing.T) {
	ds := WithDataService(t).Service
	ctx := context.Background()
	roster := createRoster(t, ds)
	require.NoError(t, ds.DeleteStudent(ctx, roster[2].ID))

	active := true
	tests := []struct {
		name       string
		query      StudentQuery
		wantNos    []string
		wantTotal  int64
		wantPages  int
		wantSize   int
		wantPageNo int
	}{
		{"defaults", StudentQuery{}, []string{"2023001", "2024001", "2024002"}, 3, 1, DefaultPageSize, 1},
		{"number substring", StudentQuery{StudentNo: "2024"}, []string{"2024001", "2024002"}, 2, 1, DefaultPageSize, 1},
		{"name substring", StudentQuery{Name: "Turing"}, []string{"2024002"}, 1, 1, DefaultPageSize, 1},
		{"class and grade", StudentQuery{ClassName: "CS-1", Grade: "2024"}, []string{"2024001", "2024002"}, 2, 1, DefaultPageSize, 1},
		{"active only", StudentQuery{IsActive: &active}, []string{"2024001", "2024002"}, 2, 1, DefaultPageSize, 1},
		{"second page", StudentQuery{Page: 2, PageSize: 2}, []string{"2024002"}, 3, 2, 2, 2},
		{"page size capped", StudentQuery{PageSize: 1000}, []string{"2023001", "2024001", "2024002"}, 3, 1, MaxPageSize, 1},
		{"no match", StudentQuery{Major: "Law"}, []string{}, 0, 0, DefaultPageSize, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := ds.ListStudents(ctx, tt.query)
			require.NoError(t, err)
			nos := make([]string, 0, len(page.Students))
			for _, s := range page.Students {
				nos = append(nos, s.StudentNo)
			}
			assert.Equal(t, tt.wantNos, nos)
			assert.Equal(t, tt.wantTotal, page.Total)
			assert.Equal(t, tt.wantPages, page.TotalPages)
			assert.Equal(t, tt.wantSize, page.PageSize)
			assert.Equal(t, tt.wantPageNo, page.Page)
		})
	}
}

func TestDataService_BatchCreateStudents(t *testing.T) {
	ds := WithDataService(t).Service
	ctx := context.Background()
	createRoster(t, ds)

	res, err := ds.BatchCreateStudents(ctx, []models.Student{
		{StudentNo: "2024001", Name: "Already there"},
		{StudentNo: "2024010", Name: "Barbara Liskov", ClassName: "CS-2"},
		{StudentNo: "2024010", Name: "Repeated in batch"},
		{StudentNo: "", Name: "No number"},
		{StudentNo: "2024011", Name: "Edsger Dijkstra", ClassName: "CS-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.ErrorCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "entry 3")

	got, err := ds.StudentByNo(ctx, "2024010")
	require.NoError(t, err)
	assert.Equal(t, "Barbara Liskov", got.Name)
}

func TestDataService_StudentStatistics(t *testing.T) {
	ds := WithDataService(t).Service
	ctx := context.Background()
	roster := createRoster(t, ds)
	require.NoError(t, ds.DeleteStudent(ctx, roster[0].ID))

	stats, err := ds.StudentStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Active)
	assert.Equal(t, int64(1), stats.Inactive)
	assert.Equal(t, map[string]int64{"CS-1": 1, "CS-2": 1}, stats.ClassDistribution)
	assert.Equal(t, map[string]int64{"2024": 1, "2023": 1}, stats.GradeDistribution)
	assert.Equal(t, map[string]int64{"Computer Science": 1, "Software Engineering": 1}, stats.MajorDistribution)

	empty, err := WithDataService(t).Service.StudentStatistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.ClassDistribution)
}
