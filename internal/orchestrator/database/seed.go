// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/noldarim/edumesh/internal/orchestrator/models"
	"github.com/samber/lo"

	"gorm.io/gorm"
)

// ErrAlreadySeeded is returned by SeedDemo when students already exist.
var ErrAlreadySeeded = errors.New("database already contains students")

// SeedSummary counts the rows SeedDemo inserted.
type SeedSummary struct {
	Students        int
	Cases           int
	Scores          int
	OperationLogs   int
	QuestionAnswers int
}

var demoCases = []models.Case{
	{CaseNo: "PRG-101", Title: "Loops and conditions", Subject: "programming", Difficulty: "easy", PassingScore: 60, TimeLimit: 30,
		KnowledgePoints: models.StringList{"control_flow", "loops"}},
	{CaseNo: "PRG-102", Title: "Recursion", Subject: "programming", Difficulty: "medium", PassingScore: 60, TimeLimit: 45,
		KnowledgePoints: models.StringList{"recursion", "control_flow"}},
	{CaseNo: "PRG-201", Title: "Hash maps", Subject: "programming", Difficulty: "medium", PassingScore: 60, TimeLimit: 45,
		KnowledgePoints: models.StringList{"data_structures", "hashing"}},
	{CaseNo: "DB-101", Title: "Selecting rows", Subject: "databases", Difficulty: "easy", PassingScore: 60, TimeLimit: 30,
		KnowledgePoints: models.StringList{"sql", "filtering"}},
	{CaseNo: "DB-201", Title: "SQL joins", Subject: "databases", Difficulty: "hard", PassingScore: 60, TimeLimit: 60,
		KnowledgePoints: models.StringList{"sql", "joins"}},
}

var difficultyPenalty = map[string]float64{"easy": 0, "medium": 8, "hard": 18}

// demoQuestions are the choice questions answered on every first attempt.
var demoQuestions = []struct {
	qtype   string
	options []string
	correct string
}{
	{models.QuestionSingleChoice, []string{"A", "B", "C", "D"}, "B"},
	{models.QuestionSingleChoice, []string{"A", "B", "C", "D"}, "D"},
	{models.QuestionMultiChoice, []string{"AB", "AC", "BD", "ACD"}, "AC"},
	{models.QuestionTrueFalse, []string{"true", "false"}, "true"},
}

// SeedDemo inserts a deterministic demo school: students spread over two
// classes, the demo cases, one to three scored attempts per student and
// case with choice answers for each first attempt, and a short session of
// operation logs per student. It refuses to
// run against a database that already has students.
func (db *GormDB) SeedDemo(ctx context.Context, students int, now time.Time) (*SeedSummary, error) {
	if students <= 0 {
		return nil, fmt.Errorf("student count must be positive, got %d", students)
	}

	var existing int64
	if err := db.db.WithContext(ctx).Model(&models.Student{}).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to count students: %w", err)
	}
	if existing > 0 {
		return nil, ErrAlreadySeeded
	}

	rng := rand.New(rand.NewPCG(42, uint64(students)))
	summary := &SeedSummary{}
	start := now.Add(-30 * 24 * time.Hour).Truncate(time.Hour)

	err := db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roster := make([]models.Student, students)
		for i := range roster {
			roster[i] = models.Student{
				StudentNo: fmt.Sprintf("2024%03d", i+1),
				Name:      fmt.Sprintf("Student %03d", i+1),
				ClassName: fmt.Sprintf("CS-%d", i%2+1),
				Grade:     "2024",
				Major:     "Computer Science",
				IsActive:  true,
			}
		}
		if err := tx.CreateInBatches(roster, 100).Error; err != nil {
			return fmt.Errorf("students: %w", err)
		}

		cases := append([]models.Case(nil), demoCases...)
		if err := tx.Create(&cases).Error; err != nil {
			return fmt.Errorf("cases: %w", err)
		}

		var scores []models.Score
		var logs []models.OperationLog
		for si, st := range roster {
			ability := 55 + rng.Float64()*40
			for ci, c := range cases {
				attempts := 1 + rng.IntN(3)
				for a := 1; a <= attempts; a++ {
					pct := ability - difficultyPenalty[c.Difficulty] + float64(a-1)*5 + rng.Float64()*10 - 5
					pct = min(max(pct, 0), 100)
					began := start.Add(time.Duration(ci*72+a*24+si%24) * time.Hour)
					submitted := began.Add(time.Duration(c.TimeLimit/2+rng.IntN(c.TimeLimit/2+1)) * time.Minute)
					scores = append(scores, models.Score{
						StudentID:     st.ID,
						CaseID:        c.ID,
						TotalScore:    100,
						ObtainedScore: float64(int(pct*10)) / 10,
						AttemptNumber: a,
						IsPassed:      pct >= c.PassingScore,
						StartTime:     began,
						SubmitTime:    &submitted,
						Duration:      int(submitted.Sub(began).Seconds()),
					})
				}
			}

			session := fmt.Sprintf("demo-%03d", si+1)
			for li, logType := range []string{"login", "case_start", "answer", "submit", "logout"} {
				logs = append(logs, models.OperationLog{
					StudentID: st.ID,
					LogType:   logType,
					Action:    logType,
					Success:   rng.Float64() > 0.1,
					Duration:  100 + rng.IntN(900),
					Timestamp: start.Add(time.Duration(si%24)*time.Hour + time.Duration(li*5)*time.Minute),
					SessionID: session,
				})
			}
		}
		if err := tx.CreateInBatches(scores, 200).Error; err != nil {
			return fmt.Errorf("scores: %w", err)
		}
		if err := tx.CreateInBatches(logs, 200).Error; err != nil {
			return fmt.Errorf("operation logs: %w", err)
		}

		var answers []models.QuestionAnswer
		for i := range scores {
			sc := &scores[i]
			if sc.AttemptNumber != 1 {
				continue
			}
			for qi, q := range demoQuestions {
				correct := rng.Float64()*100 < sc.Percentage
				answer := q.correct
				spent := 30 + rng.IntN(60)
				if !correct {
					answer = q.options[(slices.Index(q.options, q.correct)+1+rng.IntN(len(q.options)-1))%len(q.options)]
					if rng.Float64() < 0.3 {
						spent = 3 + rng.IntN(5)
					}
				}
				answers = append(answers, models.QuestionAnswer{
					ScoreID:       &sc.ID,
					StudentID:     sc.StudentID,
					CaseID:        sc.CaseID,
					QuestionID:    fmt.Sprintf("Q%d", qi+1),
					QuestionType:  q.qtype,
					StudentAnswer: answer,
					CorrectAnswer: q.correct,
					IsCorrect:     correct,
					Score:         lo.Ternary(correct, 5.0, 0.0),
					MaxScore:      5,
					TimeSpent:     spent,
					AnsweredAt:    sc.StartTime.Add(time.Duration(qi+1) * 2 * time.Minute),
				})
			}
		}
		if err := tx.CreateInBatches(answers, 500).Error; err != nil {
			return fmt.Errorf("question answers: %w", err)
		}

		summary.Students = len(roster)
		summary.Cases = len(cases)
		summary.Scores = len(scores)
		summary.OperationLogs = len(logs)
		summary.QuestionAnswers = len(answers)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed demo data: %w", err)
	}
	return summary, nil
}
