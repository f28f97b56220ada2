// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/noldarim/edumesh/internal/orchestrator/models"
	"github.com/samber/lo"
)

// Mastery thresholds on percentage scores.
const (
	masteredThreshold   = 80.0
	developingThreshold = 60.0
)

// Trend slope (percentage points per period) beyond which a trend is not "stable".
const trendSlopeThreshold = 0.5

// Choice answers faster than this many seconds count as rapid.
const rapidAnswerSeconds = 10

// Share of rapid answers above which a student is flagged as guessing.
const guessingShare = 0.3

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return lo.Sum(xs) / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// slope is the least-squares slope of ys against their index.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / denom
}

func trendDirection(s float64) string {
	switch {
	case s > trendSlopeThreshold:
		return "improving"
	case s < -trendSlopeThreshold:
		return "declining"
	default:
		return "stable"
	}
}

func masteryLevel(pct float64) string {
	switch {
	case pct >= masteredThreshold:
		return "mastered"
	case pct >= developingThreshold:
		return "developing"
	default:
		return "weak"
	}
}

func percentages(scores []models.Score) []float64 {
	return lo.Map(scores, func(s models.Score, _ int) float64 { return s.Percentage })
}

// performanceStats summarises scores overall and per student.
func performanceStats(scores []models.Score, students []models.Student) map[string]any {
	pcts := percentages(scores)
	passed := lo.CountBy(scores, func(s models.Score) bool { return s.IsPassed })

	names := lo.SliceToMap(students, func(s models.Student) (uint, string) { return s.ID, s.Name })
	byStudent := lo.GroupBy(scores, func(s models.Score) uint { return s.StudentID })
	ids := lo.Keys(byStudent)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	perStudent := make([]any, 0, len(ids))
	for _, id := range ids {
		ss := byStudent[id]
		perStudent = append(perStudent, map[string]any{
			"student_id": id,
			"name":       names[id],
			"attempts":   len(ss),
			"average":    round2(mean(percentages(ss))),
			"pass_rate":  round2(float64(lo.CountBy(ss, func(s models.Score) bool { return s.IsPassed })) / float64(len(ss))),
		})
	}

	grades := map[string]any{}
	for grade, n := range lo.CountValuesBy(scores, func(s models.Score) string { return s.Grade }) {
		grades[grade] = n
	}

	stats := map[string]any{
		"records":            len(scores),
		"students_analyzed":  len(ids),
		"average_score":      round2(mean(pcts)),
		"median_score":       round2(median(pcts)),
		"std_dev":            round2(stdDev(pcts)),
		"pass_rate":          0.0,
		"grade_distribution": grades,
		"per_student":        perStudent,
	}
	if len(pcts) > 0 {
		stats["min_score"] = round2(lo.Min(pcts))
		stats["max_score"] = round2(lo.Max(pcts))
		stats["pass_rate"] = round2(float64(passed) / float64(len(scores)))
	}
	return stats
}

// behaviorStats summarises operation logs.
func behaviorStats(logs []models.OperationLog) map[string]any {
	distribution := map[string]any{}
	for logType, n := range lo.CountValuesBy(logs, func(l models.OperationLog) string { return l.LogType }) {
		distribution[logType] = n
	}

	students := lo.Uniq(lo.Map(logs, func(l models.OperationLog, _ int) uint { return l.StudentID }))
	days := lo.Uniq(lo.Map(logs, func(l models.OperationLog, _ int) string { return l.Timestamp.Format("2006-01-02") }))
	succeeded := lo.CountBy(logs, func(l models.OperationLog) bool { return l.Success })
	durations := lo.FilterMap(logs, func(l models.OperationLog, _ int) (float64, bool) {
		return float64(l.Duration), l.Duration > 0
	})

	stats := map[string]any{
		"total_operations":       len(logs),
		"unique_students":        len(students),
		"active_days":            len(days),
		"operation_distribution": distribution,
		"success_rate":           0.0,
		"average_duration_ms":    round2(mean(durations)),
		"peak_activity_hours":    peakHours(logs, 3),
		"engagement_score":       0.0,
	}
	if len(logs) > 0 {
		successRate := float64(succeeded) / float64(len(logs))
		stats["success_rate"] = round2(successRate)
		stats["engagement_score"] = round2(engagementScore(len(logs), len(students), len(days), successRate))
	}
	return stats
}

// peakHours returns up to n hours of day with the most activity, busiest first.
func peakHours(logs []models.OperationLog, n int) []int {
	counts := lo.CountValuesBy(logs, func(l models.OperationLog) int { return l.Timestamp.Hour() })
	hours := lo.Keys(counts)
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

// engagementScore maps activity volume, spread and success onto 0..100.
func engagementScore(ops, students, days int, successRate float64) float64 {
	if students == 0 {
		return 0
	}
	perStudent := float64(ops) / float64(students)
	volume := math.Min(perStudent/20, 1) * 50
	spread := math.Min(float64(days)/7, 1) * 20
	return volume + spread + successRate*30
}

// learningPatternStats looks at attempts, time spent and consistency.
func learningPatternStats(scores []models.Score) map[string]any {
	byStudent := lo.GroupBy(scores, func(s models.Score) uint { return s.StudentID })

	slopes := make([]float64, 0, len(byStudent))
	deviations := make([]float64, 0, len(byStudent))
	for _, ss := range byStudent {
		sort.SliceStable(ss, func(i, j int) bool { return ss[i].StartTime.Before(ss[j].StartTime) })
		pcts := percentages(ss)
		if len(pcts) > 1 {
			slopes = append(slopes, slope(pcts))
		}
		deviations = append(deviations, stdDev(pcts))
	}

	attempts := lo.Map(scores, func(s models.Score, _ int) float64 { return float64(s.AttemptNumber) })
	durations := lo.FilterMap(scores, func(s models.Score, _ int) (float64, bool) {
		return float64(s.Duration), s.Duration > 0
	})

	difficulty := map[string]any{}
	for level, ss := range lo.GroupBy(scores, func(s models.Score) string {
		if s.Case == nil || s.Case.Difficulty == "" {
			return "unknown"
		}
		return s.Case.Difficulty
	}) {
		difficulty[level] = round2(mean(percentages(ss)))
	}

	improvement := mean(slopes)
	return map[string]any{
		"records":                  len(scores),
		"average_attempts":         round2(mean(attempts)),
		"average_duration_seconds": round2(mean(durations)),
		"improvement_rate":         round2(improvement),
		"improvement_trend":        trendDirection(improvement),
		"consistency_score":        round2(math.Max(0, 100-mean(deviations))),
		"difficulty_performance":   difficulty,
	}
}

// knowledgeMasteryStats scores each knowledge point by the cases that cover it.
func knowledgeMasteryStats(scores []models.Score) map[string]any {
	byPoint := map[string][]float64{}
	for _, s := range scores {
		if s.Case == nil {
			continue
		}
		for _, kp := range s.Case.KnowledgePoints {
			byPoint[kp] = append(byPoint[kp], s.Percentage)
		}
	}

	points := lo.Keys(byPoint)
	sort.Strings(points)

	type pointStat struct {
		name    string
		average float64
	}
	stats := make([]pointStat, 0, len(points))
	details := make([]any, 0, len(points))
	distribution := map[string]any{"mastered": 0, "developing": 0, "weak": 0}
	for _, p := range points {
		avg := round2(mean(byPoint[p]))
		level := masteryLevel(avg)
		stats = append(stats, pointStat{p, avg})
		distribution[level] = distribution[level].(int) + 1
		details = append(details, map[string]any{
			"knowledge_point": p,
			"attempts":        len(byPoint[p]),
			"average":         avg,
			"level":           level,
		})
	}

	weak := lo.Filter(stats, func(s pointStat, _ int) bool { return s.average < developingThreshold })
	sort.SliceStable(weak, func(i, j int) bool { return weak[i].average < weak[j].average })
	strong := lo.Filter(stats, func(s pointStat, _ int) bool { return s.average >= masteredThreshold })
	sort.SliceStable(strong, func(i, j int) bool { return strong[i].average > strong[j].average })
	names := func(ps []pointStat) []string {
		return lo.Map(ps, func(p pointStat, _ int) string { return p.name })
	}

	return map[string]any{
		"knowledge_points":     details,
		"mastery_distribution": distribution,
		"weak_areas":           names(weak),
		"strong_areas":         names(strong),
	}
}

// performanceTrendStats averages scores per day and fits a line through them.
func performanceTrendStats(scores []models.Score) map[string]any {
	byDay := lo.GroupBy(scores, func(s models.Score) string { return s.StartTime.Format("2006-01-02") })
	days := lo.Keys(byDay)
	sort.Strings(days)

	series := make([]any, 0, len(days))
	averages := make([]float64, 0, len(days))
	for _, d := range days {
		avg := round2(mean(percentages(byDay[d])))
		averages = append(averages, avg)
		series = append(series, map[string]any{"date": d, "average": avg, "attempts": len(byDay[d])})
	}

	s := slope(averages)
	return map[string]any{
		"periods":   len(days),
		"series":    series,
		"slope":     round2(s),
		"direction": trendDirection(s),
	}
}

// choicePatternStats looks at how choice questions are answered: accuracy per
// question type, favoured options, rapid answers and answer time.
func choicePatternStats(answers []models.QuestionAnswer) map[string]any {
	correct := lo.CountBy(answers, func(a models.QuestionAnswer) bool { return a.IsCorrect })

	distribution := map[string]any{}
	for qtype, as := range lo.GroupBy(answers, func(a models.QuestionAnswer) string { return a.QuestionType }) {
		c := lo.CountBy(as, func(a models.QuestionAnswer) bool { return a.IsCorrect })
		distribution[qtype] = map[string]any{
			"answers":  len(as),
			"correct":  c,
			"accuracy": round2(float64(c) / float64(len(as))),
		}
	}

	return map[string]any{
		"records":                len(answers),
		"accuracy":               ratio(correct, len(answers)),
		"answer_distribution":    distribution,
		"option_preference":      optionPreference(answers),
		"guessing_patterns":      guessingPatterns(answers),
		"response_time_patterns": responseTimePatterns(answers),
		"confidence_indicators":  confidenceIndicators(answers),
	}
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) / float64(total))
}

func countMap(counts map[string]int) map[string]any {
	out := make(map[string]any, len(counts))
	for k, n := range counts {
		out[k] = n
	}
	return out
}

// optionPreference counts chosen options overall and among wrong answers.
func optionPreference(answers []models.QuestionAnswer) map[string]any {
	chosen := lo.CountValuesBy(answers, func(a models.QuestionAnswer) string { return a.StudentAnswer })
	wrong := lo.CountValuesBy(lo.Reject(answers, func(a models.QuestionAnswer, _ int) bool { return a.IsCorrect }),
		func(a models.QuestionAnswer) string { return a.StudentAnswer })

	return map[string]any{
		"chosen":            countMap(chosen),
		"wrong_choices":     countMap(wrong),
		"most_chosen":       topKey(chosen),
		"most_common_wrong": topKey(wrong),
	}
}

// topKey returns the most frequent key, lowest key first on ties.
func topKey(counts map[string]int) string {
	keys := lo.Keys(counts)
	sort.Strings(keys)
	best := ""
	for _, k := range keys {
		if best == "" || counts[k] > counts[best] {
			best = k
		}
	}
	return best
}

func isRapid(a models.QuestionAnswer) bool {
	return a.TimeSpent > 0 && a.TimeSpent < rapidAnswerSeconds
}

// guessingPatterns flags rapid answers and the students who give many of them.
func guessingPatterns(answers []models.QuestionAnswer) map[string]any {
	rapid := lo.Filter(answers, func(a models.QuestionAnswer, _ int) bool { return isRapid(a) })
	rapidCorrect := lo.CountBy(rapid, func(a models.QuestionAnswer) bool { return a.IsCorrect })

	suspected := []uint{}
	for id, as := range lo.GroupBy(answers, func(a models.QuestionAnswer) uint { return a.StudentID }) {
		n := lo.CountBy(as, isRapid)
		if float64(n)/float64(len(as)) >= guessingShare {
			suspected = append(suspected, id)
		}
	}
	sort.Slice(suspected, func(i, j int) bool { return suspected[i] < suspected[j] })

	return map[string]any{
		"rapid_threshold_seconds": rapidAnswerSeconds,
		"rapid_answers":           len(rapid),
		"rapid_share":             ratio(len(rapid), len(answers)),
		"rapid_accuracy":          ratio(rapidCorrect, len(rapid)),
		"suspected_guessers":      suspected,
	}
}

func answerTimes(answers []models.QuestionAnswer) []float64 {
	return lo.FilterMap(answers, func(a models.QuestionAnswer, _ int) (float64, bool) {
		return float64(a.TimeSpent), a.TimeSpent > 0
	})
}

// responseTimePatterns compares time spent on correct and incorrect answers.
func responseTimePatterns(answers []models.QuestionAnswer) map[string]any {
	right, wrong := lo.FilterReject(answers, func(a models.QuestionAnswer, _ int) bool { return a.IsCorrect })

	byType := map[string]any{}
	for qtype, as := range lo.GroupBy(answers, func(a models.QuestionAnswer) string { return a.QuestionType }) {
		byType[qtype] = round2(mean(answerTimes(as)))
	}

	return map[string]any{
		"average_seconds":           round2(mean(answerTimes(answers))),
		"median_seconds":            round2(median(answerTimes(answers))),
		"average_correct_seconds":   round2(mean(answerTimes(right))),
		"average_incorrect_seconds": round2(mean(answerTimes(wrong))),
		"by_question_type":          byType,
	}
}

// confidenceIndicators splits answers at the median time: fast correct
// answers suggest confidence, slow wrong ones suggest struggle.
func confidenceIndicators(answers []models.QuestionAnswer) map[string]any {
	timed := lo.Filter(answers, func(a models.QuestionAnswer, _ int) bool { return a.TimeSpent > 0 })
	cut := median(answerTimes(timed))

	var fastRight, fastWrong, slowRight, slowWrong int
	for _, a := range timed {
		fast := float64(a.TimeSpent) <= cut
		switch {
		case fast && a.IsCorrect:
			fastRight++
		case fast:
			fastWrong++
		case a.IsCorrect:
			slowRight++
		default:
			slowWrong++
		}
	}

	fastAccuracy := ratio(fastRight, fastRight+fastWrong)
	level := "moderate"
	switch {
	case len(timed) == 0:
		level = "unknown"
	case fastAccuracy >= 0.8:
		level = "high"
	case fastAccuracy < 0.5:
		level = "low"
	}

	return map[string]any{
		"quick_correct":   fastRight,
		"quick_incorrect": fastWrong,
		"slow_correct":    slowRight,
		"slow_incorrect":  slowWrong,
		"quick_accuracy":  fastAccuracy,
		"confidence":      level,
	}
}

// ruleInsights derives insights from the statistics when no model is available.
func ruleInsights(data map[string]any) []Insight {
	var out []Insight

	if perf, ok := data["performance"].(map[string]any); ok {
		if rate, ok := perf["pass_rate"].(float64); ok && perf["records"].(int) > 0 {
			switch {
			case rate < 0.6:
				out = append(out, Insight{
					Type:           "performance",
					Description:    "Fewer than 60% of attempts pass.",
					Recommendation: "Review the failing cases with the class before moving on.",
				})
			case rate >= 0.9:
				out = append(out, Insight{
					Type:           "performance",
					Description:    "Nearly every attempt passes.",
					Recommendation: "Consider more challenging cases.",
				})
			}
		}
	}

	if km, ok := data["knowledge_mastery"].(map[string]any); ok {
		if weak, ok := km["weak_areas"].([]string); ok && len(weak) > 0 {
			out = append(out, Insight{
				Type:           "knowledge_gap",
				Description:    "Weak knowledge points identified.",
				Evidence:       joinLimited(weak, 5),
				Recommendation: "Schedule targeted practice on these points.",
			})
		}
	}

	if trend, ok := data["performance_trend"].(map[string]any); ok {
		if dir, _ := trend["direction"].(string); dir == "declining" {
			out = append(out, Insight{
				Type:           "trend",
				Description:    "Scores are declining over time.",
				Recommendation: "Check recent material for difficulty spikes.",
			})
		}
	}

	if choice, ok := data["choice_patterns"].(map[string]any); ok {
		if g, ok := choice["guessing_patterns"].(map[string]any); ok {
			if share, _ := g["rapid_share"].(float64); share >= 0.2 {
				out = append(out, Insight{
					Type:           "guessing",
					Description:    "Many choice questions are answered in a few seconds.",
					Evidence:       fmt.Sprintf("%.0f%% of answers took under %d seconds", share*100, rapidAnswerSeconds),
					Recommendation: "Review whether students read the options before answering.",
				})
			}
		}
	}

	if behavior, ok := data["behavior"].(map[string]any); ok {
		if score, ok := behavior["engagement_score"].(float64); ok && behavior["total_operations"].(int) > 0 && score < 40 {
			out = append(out, Insight{
				Type:           "engagement",
				Description:    "Engagement is low.",
				Recommendation: "Encourage more frequent practice sessions.",
			})
		}
	}

	return out
}

func joinLimited(items []string, n int) string {
	if len(items) > n {
		items = items[:n]
	}
	return strings.Join(items, ", ")
}
