// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/logger"
	"github.com/noldarim/edumesh/internal/orchestrator/models"
	"github.com/noldarim/edumesh/internal/orchestrator/services"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrNoData is returned when a query matches no records.
var ErrNoData = errors.New("no matching records")

// Analysis sections selectable through analysis_types.
const (
	AnalysisBehavior         = "behavior"
	AnalysisLearningPattern  = "learning_pattern"
	AnalysisKnowledgeMastery = "knowledge_mastery"
	AnalysisPerformanceTrend = "performance_trend"
	AnalysisChoicePattern    = "choice_pattern"
)

var allAnalysisTypes = []string{AnalysisBehavior, AnalysisLearningPattern, AnalysisKnowledgeMastery, AnalysisPerformanceTrend, AnalysisChoicePattern}

// DataAnalysisAgent computes descriptive statistics over scores and
// operation logs, optionally asking the generator for insights.
type DataAnalysisAgent struct {
	*agent.Dispatcher
	data services.DataAccess
	gen  services.Generator
	log  zerolog.Logger
}

// NewDataAnalysisAgent creates the agent. gen may be nil, in which case
// insights are derived from fixed rules.
func NewDataAnalysisAgent(data services.DataAccess, gen services.Generator) *DataAnalysisAgent {
	a := &DataAnalysisAgent{
		Dispatcher: agent.NewDispatcher(DataAnalysisID),
		data:       data,
		gen:        gen,
		log:        logger.ForAgent(DataAnalysisID),
	}
	a.On(MsgAnalyzeStudentBehavior, a.analyzeBehavior).
		On(MsgAnalyzeLearningPattern, a.analyzeLearningPattern).
		On(MsgAnalyzeKnowledgeMastery, a.analyzeKnowledgeMastery).
		On(MsgAnalyzePerformanceTrend, a.analyzePerformanceTrend).
		On(MsgAnalyzeChoicePattern, a.analyzeChoicePattern).
		On(MsgComprehensiveAnalysis, a.comprehensive)
	return a
}

// Identity describes the agent for status reporting.
func (a *DataAnalysisAgent) Identity() agent.Identity {
	return agent.Identity{
		ID:          DataAnalysisID,
		Name:        "Data Analysis Agent",
		Description: "Analyses student behaviour, learning patterns, knowledge mastery and choice answers",
	}
}

func (a *DataAnalysisAgent) analyzeBehavior(ctx context.Context, msg agent.Message) (map[string]any, error) {
	logs, err := a.data.OperationLogs(ctx, recordQuery(msg.Content))
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("%w: operation logs", ErrNoData)
	}
	return a.single(ctx, "student_behavior", AnalysisBehavior, behaviorStats(logs)), nil
}

func (a *DataAnalysisAgent) analyzeLearningPattern(ctx context.Context, msg agent.Message) (map[string]any, error) {
	scores, err := a.scores(ctx, msg)
	if err != nil {
		return nil, err
	}
	return a.single(ctx, "learning_pattern", "learning_patterns", learningPatternStats(scores)), nil
}

func (a *DataAnalysisAgent) analyzeKnowledgeMastery(ctx context.Context, msg agent.Message) (map[string]any, error) {
	scores, err := a.scores(ctx, msg)
	if err != nil {
		return nil, err
	}
	return a.single(ctx, "knowledge_mastery", AnalysisKnowledgeMastery, knowledgeMasteryStats(scores)), nil
}

func (a *DataAnalysisAgent) analyzePerformanceTrend(ctx context.Context, msg agent.Message) (map[string]any, error) {
	scores, err := a.scores(ctx, msg)
	if err != nil {
		return nil, err
	}
	return a.single(ctx, "performance_trend", AnalysisPerformanceTrend, performanceTrendStats(scores)), nil
}

func (a *DataAnalysisAgent) analyzeChoicePattern(ctx context.Context, msg agent.Message) (map[string]any, error) {
	answers, err := a.data.ChoiceAnswers(ctx, recordQuery(msg.Content))
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, fmt.Errorf("%w: choice answers", ErrNoData)
	}
	return a.single(ctx, "choice_pattern", "choice_patterns", choicePatternStats(answers)), nil
}

func (a *DataAnalysisAgent) scores(ctx context.Context, msg agent.Message) ([]models.Score, error) {
	scores, err := a.data.Scores(ctx, recordQuery(msg.Content))
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: scores", ErrNoData)
	}
	return scores, nil
}

func (a *DataAnalysisAgent) single(ctx context.Context, analysisType, section string, stats map[string]any) map[string]any {
	return map[string]any{
		"analysis_type": analysisType,
		"data":          stats,
		"insights":      insightMaps(a.insights(ctx, analysisType, map[string]any{section: stats})),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
}

// comprehensive runs every requested section over one data load and
// persists the result.
func (a *DataAnalysisAgent) comprehensive(ctx context.Context, msg agent.Message) (map[string]any, error) {
	q := recordQuery(msg.Content)

	requested := lo.Intersect(allAnalysisTypes, msg.Content.Strings("analysis_types"))
	if len(requested) == 0 {
		requested = allAnalysisTypes
	}

	students, err := a.data.Students(ctx, q.StudentIDs)
	if err != nil {
		return nil, err
	}
	scores, err := a.data.Scores(ctx, q)
	if err != nil {
		return nil, err
	}

	analysis := map[string]any{
		"performance": performanceStats(scores, students),
	}
	for _, section := range requested {
		switch section {
		case AnalysisBehavior:
			logs, err := a.data.OperationLogs(ctx, q)
			if err != nil {
				return nil, err
			}
			analysis["behavior"] = behaviorStats(logs)
		case AnalysisLearningPattern:
			analysis["learning_patterns"] = learningPatternStats(scores)
		case AnalysisKnowledgeMastery:
			analysis["knowledge_mastery"] = knowledgeMasteryStats(scores)
		case AnalysisPerformanceTrend:
			analysis["performance_trend"] = performanceTrendStats(scores)
		case AnalysisChoicePattern:
			answers, err := a.data.ChoiceAnswers(ctx, q)
			if err != nil {
				return nil, err
			}
			analysis["choice_patterns"] = choicePatternStats(answers)
		}
	}

	insights := insightMaps(a.insights(ctx, "comprehensive", analysis))
	studentsAnalyzed := len(lo.Uniq(lo.Map(scores, func(s models.Score, _ int) uint { return s.StudentID })))

	out := map[string]any{
		"analysis_type":     "comprehensive",
		"sections":          requested,
		"students_analyzed": studentsAnalyzed,
		"analysis_data":     analysis,
		"insights":          insights,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	}

	record := &models.AnalysisRecord{
		CorrelationID: msg.CorrelationID,
		AnalysisType:  "comprehensive",
		StudentIDs:    lo.Map(q.StudentIDs, func(id uint, _ int) int { return int(id) }),
		CaseIDs:       lo.Map(q.CaseIDs, func(id uint, _ int) int { return int(id) }),
		Result: models.JSONMap{
			"students_analyzed": studentsAnalyzed,
			"analysis_data":     analysis,
			"insights":          insights,
		},
	}
	if err := a.data.SaveAnalysis(ctx, record); err != nil {
		a.log.Warn().Err(err).Str("correlation_id", msg.CorrelationID).Msg("Failed to persist analysis record")
	} else {
		out["record_id"] = record.ID
	}

	a.log.Info().
		Str("correlation_id", msg.CorrelationID).
		Int("students", studentsAnalyzed).
		Int("scores", len(scores)).
		Strs("sections", requested).
		Msg("Comprehensive analysis finished")
	return out, nil
}

// insights asks the generator when one is configured and falls back to rules.
func (a *DataAnalysisAgent) insights(ctx context.Context, kind string, data map[string]any) []Insight {
	if a.gen == nil {
		return ruleInsights(data)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return ruleInsights(data)
	}
	prompt, err := RenderPrompt(insightsPrompt, map[string]any{"Kind": kind, "Data": string(raw)})
	if err != nil {
		return ruleInsights(data)
	}

	text, err := a.gen.Generate(ctx, prompt, insightsSystemPrompt)
	if err != nil {
		a.log.Warn().Err(err).Str("kind", kind).Msg("Insight generation failed, using rule-based insights")
		return ruleInsights(data)
	}
	return ParseInsights(text)
}
