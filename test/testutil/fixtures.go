// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/noldarim/edumesh/internal/orchestrator/database"
	"github.com/noldarim/edumesh/internal/orchestrator/models"

	"github.com/stretchr/testify/require"
)

// BaseTime is the timestamp the sample data is anchored on.
var BaseTime = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// School is the sample data inserted by SeedSchool.
type School struct {
	Students []models.Student
	Cases    []models.Case
	Scores   []models.Score
	Logs     []models.OperationLog
}

// StudentIDs returns the ids of every seeded student.
func (s *School) StudentIDs() []int {
	ids := make([]int, len(s.Students))
	for i, st := range s.Students {
		ids[i] = int(st.ID)
	}
	return ids
}

// SampleStudents returns three students across two classes.
func SampleStudents() []models.Student {
	return []models.Student{
		{StudentNo: "2024001", Name: "Ada Lovelace", ClassName: "CS-1", Grade: "2024", Major: "Computer Science", IsActive: true},
		{StudentNo: "2024002", Name: "Alan Turing", ClassName: "CS-1", Grade: "2024", Major: "Computer Science", IsActive: true},
		{StudentNo: "2024003", Name: "Grace Hopper", ClassName: "CS-2", Grade: "2024", Major: "Software Engineering", IsActive: true},
	}
}

// SampleCases returns three cases with overlapping knowledge points.
func SampleCases() []models.Case {
	return []models.Case{
		{CaseNo: "C-101", Title: "Loops and conditions", Subject: "programming", Difficulty: "easy", PassingScore: 60,
			KnowledgePoints: models.StringList{"control_flow", "loops"}},
		{CaseNo: "C-102", Title: "Recursion", Subject: "programming", Difficulty: "medium", PassingScore: 60,
			KnowledgePoints: models.StringList{"recursion", "control_flow"}},
		{CaseNo: "C-201", Title: "SQL joins", Subject: "databases", Difficulty: "hard", PassingScore: 60,
			KnowledgePoints: models.StringList{"sql", "joins"}},
	}
}

// SeedSchool inserts students, cases, scores and operation logs.
//
// Scores (percentages) by student and case:
//
//	Ada:   C-101 95, C-102 85, C-201 45
//	Alan:  C-101 70, C-102 65, C-201 50
//	Grace: C-101 88, C-102 92, C-201 78
func SeedSchool(t *testing.T, db *database.GormDB) *School {
	t.Helper()
	ctx := context.Background()

	school := &School{Students: SampleStudents(), Cases: SampleCases()}
	require.NoError(t, db.CreateStudents(ctx, school.Students))
	require.NoError(t, db.CreateCases(ctx, school.Cases))

	obtained := [][]float64{
		{95, 85, 45},
		{70, 65, 50},
		{88, 92, 78},
	}
	for si, st := range school.Students {
		for ci, c := range school.Cases {
			start := BaseTime.Add(time.Duration(ci*24+si) * time.Hour)
			school.Scores = append(school.Scores, models.Score{
				StudentID:     st.ID,
				CaseID:        c.ID,
				TotalScore:    100,
				ObtainedScore: obtained[si][ci],
				AttemptNumber: 1,
				IsPassed:      obtained[si][ci] >= c.PassingScore,
				StartTime:     start,
				Duration:      600 + 60*ci,
			})
		}
	}
	require.NoError(t, db.CreateScores(ctx, school.Scores))

	for si, st := range school.Students {
		for i, logType := range []string{"login", "view_case", "submit"} {
			school.Logs = append(school.Logs, models.OperationLog{
				StudentID: st.ID,
				LogType:   logType,
				Action:    logType,
				Success:   !(si == 1 && logType == "submit"),
				Duration:  200 * (i + 1),
				Timestamp: BaseTime.Add(time.Duration(si)*24*time.Hour + time.Duration(i)*time.Hour),
			})
		}
	}
	require.NoError(t, db.CreateOperationLogs(ctx, school.Logs))

	return school
}

// SeedChoiceAnswers records choice answers on C-101 for every student in
// school plus one fill-in answer that choice queries must skip.
//
//	Ada:   Q1 B ok 30s, Q2 D ok 25s, Q3 true ok 40s
//	Alan:  Q1 A wrong 3s, Q2 A wrong 4s, Q3 true ok 20s
//	Grace: Q1 B ok 35s, Q2 C wrong 50s, Q3 true ok 18s
func SeedChoiceAnswers(t *testing.T, db *database.GormDB, school *School) []models.QuestionAnswer {
	t.Helper()

	questions := []struct {
		id, qtype, correct string
	}{
		{"Q1", models.QuestionSingleChoice, "B"},
		{"Q2", models.QuestionSingleChoice, "D"},
		{"Q3", models.QuestionTrueFalse, "true"},
	}
	given := [][]string{
		{"B", "D", "true"},
		{"A", "A", "true"},
		{"B", "C", "true"},
	}
	spent := [][]int{
		{30, 25, 40},
		{3, 4, 20},
		{35, 50, 18},
	}

	c := school.Cases[0]
	var answers []models.QuestionAnswer
	for si, st := range school.Students {
		for qi, q := range questions {
			answers = append(answers, models.QuestionAnswer{
				StudentID:     st.ID,
				CaseID:        c.ID,
				QuestionID:    q.id,
				QuestionType:  q.qtype,
				StudentAnswer: given[si][qi],
				CorrectAnswer: q.correct,
				IsCorrect:     given[si][qi] == q.correct,
				MaxScore:      5,
				TimeSpent:     spent[si][qi],
				AnsweredAt:    BaseTime.Add(time.Duration(si)*time.Hour + time.Duration(qi)*time.Minute),
			})
		}
	}
	answers = append(answers, models.QuestionAnswer{
		StudentID:     school.Students[0].ID,
		CaseID:        c.ID,
		QuestionID:    "Q4",
		QuestionType:  models.QuestionFillBlank,
		StudentAnswer: "for",
		CorrectAnswer: "for",
		IsCorrect:     true,
		TimeSpent:     2,
		AnsweredAt:    BaseTime,
	})

	require.NoError(t, db.CreateQuestionAnswers(context.Background(), answers))
	return answers
}
