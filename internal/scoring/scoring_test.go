package scoring_test

import (
	"reflect"
	"testing"
	"time"

	"matchline/internal/domain"
	"matchline/internal/scoring"
)

var testNow = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

func mathTask(price float64, deadlineIn time.Duration) domain.Task {
	return domain.Task{
		ID:         "t1",
		Subject:    "Math",
		Title:      "Solve",
		Price:      price,
		DeadlineAt: testNow.Add(deadlineIn).Format(time.RFC3339),
		Status:     domain.TaskOpen,
	}
}

func expert(subjects []string, rating float64, count int) domain.ExpertProfile {
	return domain.ExpertProfile{
		ID:                    "e1",
		Subjects:              subjects,
		RatingAvg:             rating,
		RatingCount:           count,
		AcceptRate:            0.9,
		MedianResponseMinutes: 10,
	}
}

func TestScoreDeterministic(t *testing.T) {
	task := mathTask(50, 48*time.Hour)
	e := expert([]string{"Math"}, 4.8, 25)
	a := scoring.Score(task, e, testNow, nil)
	b := scoring.Score(task, e, testNow, nil)
	if a.Total != b.Total || !reflect.DeepEqual(a.Signals, b.Signals) {
		t.Fatalf("score not deterministic: %+v vs %+v", a, b)
	}
	if a.Total <= 0 || a.Total > 1 {
		t.Fatalf("total out of range: %f", a.Total)
	}
}

func TestSubjectFit(t *testing.T) {
	task := mathTask(50, 48*time.Hour)
	listed := expert([]string{"Math", "Physics"}, 4.0, 20)
	if got := scoring.Score(task, listed, testNow, nil).Signals[scoring.SignalSubjectFit]; got != 1.0 {
		t.Fatalf("listed subject: got %f", got)
	}
	proven := expert([]string{"History"}, 4.0, 20)
	proven.CompletedBySubject = map[string]int{"Math": 2}
	if got := scoring.Score(task, proven, testNow, nil).Signals[scoring.SignalSubjectFit]; got != 1.0 {
		t.Fatalf("proven via completions: got %f", got)
	}
	neither := expert([]string{"History"}, 4.0, 20)
	neither.CompletedBySubject = map[string]int{"Math": 1}
	if got := scoring.Score(task, neither, testNow, nil).Signals[scoring.SignalSubjectFit]; got != 0.0 {
		t.Fatalf("no fit: got %f", got)
	}
}

func TestPriceFit(t *testing.T) {
	lo, hi := 30.0, 80.0
	e := expert([]string{"Math"}, 4.0, 20)
	e.MinPrice, e.MaxPrice = &lo, &hi

	if got := scoring.Score(mathTask(50, 48*time.Hour), e, testNow, nil).Signals[scoring.SignalPriceFit]; got != 1.0 {
		t.Fatalf("in range: got %f", got)
	}
	// Midpoint 55; 20% band is [44,66], 44 is below min but inside the band.
	if got := scoring.Score(mathTask(29, 48*time.Hour), e, testNow, nil).Signals[scoring.SignalPriceFit]; got != 0.0 {
		t.Fatalf("below band: got %f", got)
	}
	eNarrow := expert([]string{"Math"}, 4.0, 20)
	n1, n2 := 100.0, 120.0
	eNarrow.MinPrice, eNarrow.MaxPrice = &n1, &n2
	// Midpoint 110; 90 is outside range but within [88,132].
	if got := scoring.Score(mathTask(90, 48*time.Hour), eNarrow, testNow, nil).Signals[scoring.SignalPriceFit]; got != 0.5 {
		t.Fatalf("near midpoint: got %f", got)
	}
	undeclared := expert([]string{"Math"}, 4.0, 20)
	if got := scoring.Score(mathTask(50, 48*time.Hour), undeclared, testNow, nil).Signals[scoring.SignalPriceFit]; got != 0.5 {
		t.Fatalf("undeclared range: got %f", got)
	}
}

func TestDeadlineFit(t *testing.T) {
	e := expert([]string{"Math"}, 4.0, 20)
	cases := []struct {
		in   time.Duration
		want float64
	}{
		{48 * time.Hour, 1.0},
		{2 * time.Hour, 1.0},
		{90 * time.Minute, 0.4},
		{30 * time.Minute, 0.0},
		{-time.Hour, 0.0},
	}
	for _, c := range cases {
		got := scoring.Score(mathTask(50, c.in), e, testNow, nil).Signals[scoring.SignalDeadlineFit]
		if got != c.want {
			t.Fatalf("deadline in %v: got %f want %f", c.in, got, c.want)
		}
	}
	bad := mathTask(50, time.Hour)
	bad.DeadlineAt = "not-a-time"
	if got := scoring.Score(bad, e, testNow, nil).Signals[scoring.SignalDeadlineFit]; got != 0.0 {
		t.Fatalf("unparseable deadline: got %f", got)
	}
}

func TestRatingSignal(t *testing.T) {
	task := mathTask(50, 48*time.Hour)
	cases := []struct {
		rating float64
		want   float64
	}{
		{5.0, 1.0},
		{4.25, 0.5},
		{3.5, 0.0},
		{2.0, 0.0},
	}
	for _, c := range cases {
		got := scoring.Score(task, expert([]string{"Math"}, c.rating, 20), testNow, nil).Signals[scoring.SignalRating]
		if got != c.want {
			t.Fatalf("rating %.2f: got %f want %f", c.rating, got, c.want)
		}
	}
}

func TestAcceptRateNeutralForLowVolume(t *testing.T) {
	task := mathTask(50, 48*time.Hour)
	rookie := expert([]string{"Math"}, 4.0, 5)
	rookie.AcceptRate = 1.0
	if got := scoring.Score(task, rookie, testNow, nil).Signals[scoring.SignalAcceptRate]; got != 0.5 {
		t.Fatalf("rookie: got %f", got)
	}
	veteran := expert([]string{"Math"}, 4.0, 50)
	veteran.AcceptRate = 0.8
	if got := scoring.Score(task, veteran, testNow, nil).Signals[scoring.SignalAcceptRate]; got != 0.8 {
		t.Fatalf("veteran: got %f", got)
	}
}

func TestResponseSpeed(t *testing.T) {
	task := mathTask(50, 48*time.Hour)
	fast := expert([]string{"Math"}, 4.0, 20)
	fast.MedianResponseMinutes = 3
	if got := scoring.Score(task, fast, testNow, nil).Signals[scoring.SignalResponseSpeed]; got != 1.0 {
		t.Fatalf("fast: got %f", got)
	}
	slow := expert([]string{"Math"}, 4.0, 20)
	slow.MedianResponseMinutes = 300
	if got := scoring.Score(task, slow, testNow, nil).Signals[scoring.SignalResponseSpeed]; got != 0.2 {
		t.Fatalf("slow: got %f", got)
	}
	mid := expert([]string{"Math"}, 4.0, 20)
	mid.MedianResponseMinutes = 62.5
	got := scoring.Score(task, mid, testNow, nil).Signals[scoring.SignalResponseSpeed]
	if got < 0.59 || got > 0.61 {
		t.Fatalf("mid: got %f", got)
	}
}

func TestHistoricalSuccess(t *testing.T) {
	task := mathTask(50, 48*time.Hour)
	fresh := expert([]string{"Math"}, 4.0, 20)
	if got := scoring.Score(task, fresh, testNow, nil).Signals[scoring.SignalHistoricalSuccess]; got != 0.5 {
		t.Fatalf("no history: got %f", got)
	}
	seasoned := expert([]string{"Math"}, 4.0, 20)
	seasoned.CompletedBySubject = map[string]int{"Math": 20}
	if got := scoring.Score(task, seasoned, testNow, nil).Signals[scoring.SignalHistoricalSuccess]; got != 1.0 {
		t.Fatalf("deep history: got %f", got)
	}
}

func TestRankExpertsStable(t *testing.T) {
	task := mathTask(50, 48*time.Hour)
	a := expert([]string{"Math"}, 4.0, 20)
	a.ID = "a"
	b := expert([]string{"Math"}, 4.0, 20)
	b.ID = "b"
	strong := expert([]string{"Math"}, 5.0, 50)
	strong.ID = "strong"

	ranked := scoring.RankExperts(task, []domain.ExpertProfile{a, b, strong}, testNow, nil)
	if ranked[0].Expert.ID != "strong" {
		t.Fatalf("expected strong first, got %s", ranked[0].Expert.ID)
	}
	// a and b are identical; stable sort keeps input order.
	if ranked[1].Expert.ID != "a" || ranked[2].Expert.ID != "b" {
		t.Fatalf("tie order not stable: %s, %s", ranked[1].Expert.ID, ranked[2].Expert.ID)
	}
}

func TestWeightsOverride(t *testing.T) {
	task := mathTask(50, 48*time.Hour)
	e := expert([]string{"Math"}, 3.0, 20)
	onlySubject := map[string]float64{scoring.SignalSubjectFit: 1.0}
	res := scoring.Score(task, e, testNow, onlySubject)
	if res.Total != 1.0 {
		t.Fatalf("subject-only weighting: got %f", res.Total)
	}
}
