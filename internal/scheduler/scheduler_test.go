package scheduler_test

import (
	"context"
	"testing"
	"time"

	"matchline/internal/config"
	"matchline/internal/db"
	"matchline/internal/domain"
	"matchline/internal/engine"
	"matchline/internal/migrate"
	"matchline/internal/scheduler"
)

func newSchedulerEnv(t *testing.T) (engine.Engine, *config.Config, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return now }
	return eng, cfg, &now
}

func TestStartStopIdempotent(t *testing.T) {
	eng, cfg, _ := newSchedulerEnv(t)
	s := scheduler.New(eng, cfg.SweepInterval(), nil)

	if s.Running() {
		t.Fatal("running before start")
	}
	s.Start()
	s.Start()
	if !s.Running() {
		t.Fatal("not running after start")
	}
	s.Stop()
	if s.Running() {
		t.Fatal("still running after stop")
	}
	s.Stop()

	// Restartable after a stop.
	s.Start()
	if !s.Running() {
		t.Fatal("not running after restart")
	}
	s.Stop()
}

func TestSweepReleasesAndExpands(t *testing.T) {
	eng, cfg, now := newSchedulerEnv(t)
	ctx := context.Background()

	for i, id := range []string{"e1", "e2", "e3", "e4", "e5", "e6"} {
		lo, hi := 30.0, 80.0
		if _, err := eng.CreateExpert(ctx, engine.ExpertCreateOptions{
			ID:          id,
			Subjects:    []string{"Math"},
			MinPrice:    &lo,
			MaxPrice:    &hi,
			RatingAvg:   4.0,
			RatingCount: 20,
			AcceptRate:  0.9,
			ActorID:     "tester",
		}); err != nil {
			t.Fatalf("create expert %d: %v", i, err)
		}
	}
	task, err := eng.CreateTask(ctx, engine.TaskCreateOptions{
		Subject:    "Math",
		Title:      "Sweep me",
		Price:      50,
		DeadlineAt: now.Add(48 * time.Hour).Format(time.RFC3339),
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := eng.SoftClaim(ctx, task.ID, "e1"); err != nil {
		t.Fatalf("soft claim: %v", err)
	}

	*now = now.Add(cfg.ReservationTTL() + cfg.WaveInterval())

	s := scheduler.New(eng, cfg.SweepInterval(), nil)
	released, expanded := s.Sweep(ctx)
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	// The release happens before expansion, so the reopened overdue task is
	// widened in the same sweep.
	if expanded != 1 {
		t.Fatalf("expanded = %d, want 1", expanded)
	}

	got, err := eng.Repo.GetTask(ctx, task.ID)
	if err != nil || got.Status != domain.TaskOpen || got.CurrentWave != 2 {
		t.Fatalf("task after sweep: %+v, %v", got, err)
	}

	released, expanded = s.Sweep(ctx)
	if released != 0 || expanded != 0 {
		t.Fatalf("second sweep: released=%d expanded=%d", released, expanded)
	}
}

func TestBackgroundLoopSweeps(t *testing.T) {
	eng, cfg, now := newSchedulerEnv(t)
	ctx := context.Background()

	task, err := eng.CreateTask(ctx, engine.TaskCreateOptions{
		Subject:       "Math",
		Title:         "Background",
		Price:         50,
		DeadlineAt:    now.Add(48 * time.Hour).Format(time.RFC3339),
		ActorID:       "tester",
		SkipFirstWave: true,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := eng.SoftClaim(ctx, task.ID, "e1"); err != nil {
		t.Fatalf("soft claim: %v", err)
	}
	*now = now.Add(cfg.ReservationTTL() + time.Minute)

	s := scheduler.New(eng, 10*time.Millisecond, nil)
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := eng.Repo.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if got.Status == domain.TaskOpen {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("loop never released the reservation: %+v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
