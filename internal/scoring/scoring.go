// Package scoring computes weighted fit scores between tasks and experts.
// Everything here is pure: same inputs, same outputs, no store access.
package scoring

import (
	"sort"
	"time"

	"matchline/internal/domain"
)

// Signal names, also the keys of Result.Signals and of the weights map.
const (
	SignalSubjectFit        = "subject_fit"
	SignalPriceFit          = "price_fit"
	SignalDeadlineFit       = "deadline_fit"
	SignalRating            = "rating"
	SignalAcceptRate        = "accept_rate"
	SignalResponseSpeed     = "response_speed"
	SignalLevelMatch        = "level_match"
	SignalHistoricalSuccess = "historical_success"
)

// DefaultWeights sum to 1.0. Deployments override them via config.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		SignalSubjectFit:        0.25,
		SignalPriceFit:          0.15,
		SignalDeadlineFit:       0.15,
		SignalRating:            0.15,
		SignalAcceptRate:        0.10,
		SignalResponseSpeed:     0.10,
		SignalLevelMatch:        0.05,
		SignalHistoricalSuccess: 0.05,
	}
}

// Result is a total in [0,1] plus the per-signal breakdown that produced it.
type Result struct {
	Total   float64            `json:"total"`
	Signals map[string]float64 `json:"signals"`
}

// Ranked pairs an expert with their score for a task.
type Ranked struct {
	Expert domain.ExpertProfile
	Score  Result
}

// Score computes the weighted fit of one expert for one task at time now.
// A nil weights map means DefaultWeights.
func Score(task domain.Task, expert domain.ExpertProfile, now time.Time, weights map[string]float64) Result {
	if weights == nil {
		weights = DefaultWeights()
	}
	signals := map[string]float64{
		SignalSubjectFit:        subjectFit(task, expert),
		SignalPriceFit:          priceFit(task, expert),
		SignalDeadlineFit:       deadlineFit(task, now),
		SignalRating:            ratingSignal(expert),
		SignalAcceptRate:        acceptRateSignal(expert),
		SignalResponseSpeed:     responseSpeed(expert),
		SignalLevelMatch:        1.0,
		SignalHistoricalSuccess: historicalSuccess(task, expert),
	}
	var total float64
	for name, value := range signals {
		total += value * weights[name]
	}
	return Result{Total: clamp01(total), Signals: signals}
}

// RankExperts sorts experts descending by total score. The sort is stable so
// ties keep input order and results are deterministic.
func RankExperts(task domain.Task, experts []domain.ExpertProfile, now time.Time, weights map[string]float64) []Ranked {
	ranked := make([]Ranked, 0, len(experts))
	for _, e := range experts {
		ranked = append(ranked, Ranked{Expert: e, Score: Score(task, e, now, weights)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score.Total > ranked[j].Score.Total
	})
	return ranked
}

func subjectFit(task domain.Task, expert domain.ExpertProfile) float64 {
	for _, s := range expert.Subjects {
		if s == task.Subject {
			return 1.0
		}
	}
	if expert.CompletedBySubject[task.Subject] >= 2 {
		return 1.0
	}
	return 0.0
}

func priceFit(task domain.Task, expert domain.ExpertProfile) float64 {
	if expert.MinPrice == nil || expert.MaxPrice == nil {
		return 0.5
	}
	min, max := *expert.MinPrice, *expert.MaxPrice
	if task.Price >= min && task.Price <= max {
		return 1.0
	}
	mid := (min + max) / 2
	if task.Price >= mid*0.8 && task.Price <= mid*1.2 {
		return 0.5
	}
	return 0.0
}

func deadlineFit(task domain.Task, now time.Time) float64 {
	deadline, err := time.Parse(time.RFC3339, task.DeadlineAt)
	if err != nil {
		return 0.0
	}
	hours := deadline.Sub(now).Hours()
	switch {
	case hours >= 2:
		return 1.0
	case hours >= 1:
		return 0.4
	default:
		return 0.0
	}
}

func ratingSignal(expert domain.ExpertProfile) float64 {
	return clamp01((expert.RatingAvg - 3.5) / 1.5)
}

// acceptRateSignal falls back to neutral until the rating volume is large
// enough for the rate to mean anything.
func acceptRateSignal(expert domain.ExpertProfile) float64 {
	if expert.RatingCount < 10 {
		return 0.5
	}
	return clamp01(expert.AcceptRate)
}

func responseSpeed(expert domain.ExpertProfile) float64 {
	m := expert.MedianResponseMinutes
	switch {
	case m <= 5:
		return 1.0
	case m >= 120:
		return 0.2
	default:
		return 1.0 - (m-5)/(120-5)*0.8
	}
}

func historicalSuccess(task domain.Task, expert domain.ExpertProfile) float64 {
	completed := expert.CompletedBySubject[task.Subject]
	if completed < 0 {
		completed = 0
	}
	return clamp(0.5+float64(completed)/10*0.5, 0.5, 1.0)
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
