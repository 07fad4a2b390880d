package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"matchline/internal/config"
	"matchline/internal/domain"
	"matchline/internal/events"
	"matchline/internal/repo"
)

// Notifier delivers invite notifications. Delivery is best-effort: the engine
// never fails a matching operation because a notification could not be sent.
type Notifier interface {
	NotifyInvite(ctx context.Context, invite domain.Invite, task domain.Task)
}

// Engine ties the matching subsystem together: candidate selection, invite
// waves, and the reservation state machine, all against one SQLite store.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier Notifier
	Log      *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// TaskCreateOptions are parameters for posting a task into matching.
type TaskCreateOptions struct {
	ID          string
	Subject     string
	Title       string
	Description string
	Price       float64
	DeadlineAt  string
	ActorID     string
	// SkipFirstWave suppresses the automatic first invite wave, for tests and
	// manual triggering.
	SkipFirstWave bool
}

// CreateTask inserts an open task and, unless suppressed, issues its first
// invite wave. Wave failure does not fail creation; the scheduler retries on
// the next expansion sweep.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if opts.Subject == "" {
		return domain.Task{}, errors.New("subject is required")
	}
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Price <= 0 {
		return domain.Task{}, errors.New("price must be > 0")
	}
	if _, err := time.Parse(time.RFC3339, opts.DeadlineAt); err != nil {
		return domain.Task{}, fmt.Errorf("invalid deadline_at: %w", err)
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:          id,
		Subject:     opts.Subject,
		Title:       opts.Title,
		Description: opts.Description,
		Price:       opts.Price,
		DeadlineAt:  opts.DeadlineAt,
		Status:      domain.TaskOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"subject": t.Subject,
		"price":   t.Price,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if !opts.SkipFirstWave {
		if _, err := e.IssueWave(ctx, t.ID, 0); err != nil {
			e.log().Warn("first invite wave failed", "task_id", t.ID, "error", err)
		}
		return e.Repo.GetTask(ctx, t.ID)
	}
	return t, nil
}

// CancelTask withdraws an open task from matching. Reserved or claimed tasks
// cannot be cancelled here; the reservation has to be resolved first.
func (e Engine) CancelTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	ok, err := e.Repo.CancelTask(ctx, tx, taskID, now)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, NotOpenError{Status: t.Status}
	}
	if err := e.Events.Append(ctx, tx, "task.cancelled", "task", taskID, actorID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// ExpertCreateOptions are parameters for registering an expert profile.
type ExpertCreateOptions struct {
	ID                    string
	Name                  string
	Subjects              []string
	MinPrice              *float64
	MaxPrice              *float64
	Level                 string
	RatingAvg             float64
	RatingCount           int
	AcceptRate            float64
	MedianResponseMinutes float64
	CompletedBySubject    map[string]int
	ActorID               string
}

// CreateExpert registers a profile. The engine treats profiles as read-only
// afterwards; reputation updates come from elsewhere.
func (e Engine) CreateExpert(ctx context.Context, opts ExpertCreateOptions) (domain.ExpertProfile, error) {
	if len(opts.Subjects) == 0 {
		return domain.ExpertProfile{}, errors.New("at least one subject is required")
	}
	if opts.AcceptRate < 0 || opts.AcceptRate > 1 {
		return domain.ExpertProfile{}, errors.New("accept_rate must be within [0,1]")
	}
	if (opts.MinPrice == nil) != (opts.MaxPrice == nil) {
		return domain.ExpertProfile{}, errors.New("min_price and max_price must be set together")
	}
	if opts.MinPrice != nil && *opts.MinPrice > *opts.MaxPrice {
		return domain.ExpertProfile{}, errors.New("min_price must not exceed max_price")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	profile := domain.ExpertProfile{
		ID:                    id,
		Name:                  opts.Name,
		Subjects:              opts.Subjects,
		MinPrice:              opts.MinPrice,
		MaxPrice:              opts.MaxPrice,
		Level:                 opts.Level,
		RatingAvg:             opts.RatingAvg,
		RatingCount:           opts.RatingCount,
		AcceptRate:            opts.AcceptRate,
		MedianResponseMinutes: opts.MedianResponseMinutes,
		CompletedBySubject:    opts.CompletedBySubject,
		CreatedAt:             e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExpertProfile{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertExpert(ctx, tx, profile); err != nil {
		return domain.ExpertProfile{}, err
	}
	if err := e.Events.Append(ctx, tx, "expert.registered", "expert", profile.ID, opts.ActorID, events.EventPayload{
		"subjects": profile.Subjects,
	}); err != nil {
		return domain.ExpertProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExpertProfile{}, err
	}
	return e.Repo.GetExpert(ctx, profile.ID)
}

// EligibleExperts runs the coarse candidate pre-filter for a task's subject.
// An empty result is not an error.
func (e Engine) EligibleExperts(ctx context.Context, task domain.Task) ([]domain.ExpertProfile, error) {
	return e.Repo.EligibleExperts(ctx, repo.EligibilityFilter{
		Subject:        task.Subject,
		MinRatingAvg:   e.Config.Eligibility.MinRatingAvg,
		MinRatingCount: e.Config.Eligibility.MinRatingCount,
	})
}
