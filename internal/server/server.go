package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"matchline/internal/domain"
	"matchline/internal/engine"
	"matchline/internal/repo"
	"matchline/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Scheduler *scheduler.Scheduler
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_open"`
	Message string         `json:"message" example:"task not open (status reserved)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Matchline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Matchline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerReservations(group, cfg.Engine)
	registerWaves(group, cfg.Engine)
	registerInvites(group, cfg.Engine)
	registerExperts(group, cfg.Engine)
	registerScheduler(group, cfg.Scheduler)
	registerSweeps(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var notOpen engine.NotOpenError
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, engine.ErrInviteNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &notOpen):
		return newAPIError(http.StatusConflict, "not_open", err.Error(), map[string]any{"status": notOpen.Status})
	case errors.Is(err, engine.ErrTooManyReservations):
		return newAPIError(http.StatusConflict, "reservation_limit", err.Error(), nil)
	case errors.Is(err, engine.ErrNotReservedByExpert):
		return newAPIError(http.StatusConflict, "not_reserved_by_expert", err.Error(), nil)
	case errors.Is(err, engine.ErrReservationExpired):
		return newAPIError(http.StatusConflict, "reservation_expired", err.Error(), nil)
	case errors.Is(err, engine.ErrInviteAlreadyResponded):
		return newAPIError(http.StatusConflict, "invite_already_responded", err.Error(), nil)
	case errors.Is(err, engine.ErrPreconditionFailed):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := expertIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			Subject:       input.Body.Subject,
			Title:         input.Body.Title,
			Description:   stringOrEmpty(input.Body.Description),
			Price:         input.Body.Price,
			DeadlineAt:    input.Body.DeadlineAt,
			ActorID:       actorID,
			SkipFirstWave: input.Body.SkipFirstWave,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status"`
		Subject string `query:"subject"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			Status:  input.Status,
			Subject: input.Subject,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/cancel",
		Summary:     "Cancel an open task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := expertIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CancelTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerReservations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/claim",
		Summary:     "Soft-claim a task",
		Description: "Places a time-limited exclusive reservation on an open task for the authenticated expert.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		expertID, authErr := expertIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SoftClaim(ctx, input.TaskID, expertID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-claim",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/confirm",
		Summary:     "Confirm a reservation",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		expertID, authErr := expertIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ConfirmClaim(ctx, input.TaskID, expertID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-reservation",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/release",
		Summary:     "Release own reservation",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		expertID, authErr := expertIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CancelReservation(ctx, input.TaskID, expertID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-reservation",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/reservation",
		Summary:     "Current reservation of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body *domain.Reservation `json:"body"`
	}, error) {
		res, err := e.TaskReservation(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Reservation `json:"body"`
		}{Body: res}, nil
	})
}

func registerWaves(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "issue-wave",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/waves",
		Summary:       "Issue an invite wave",
		Description:   "Manually triggers the next invite wave for an open task.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string           `path:"task_id"`
		Body   IssueWaveRequest `json:"body"`
	}) (*struct {
		Body []domain.Invite `json:"body"`
	}, error) {
		invites, err := e.IssueWave(ctx, input.TaskID, input.Body.MaxInvites)
		if err != nil {
			return nil, handleError(err)
		}
		if invites == nil {
			invites = []domain.Invite{}
		}
		return &struct {
			Body []domain.Invite `json:"body"`
		}{Body: invites}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-invites",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/invites",
		Summary:     "List a task's invites",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body []domain.Invite `json:"body"`
	}, error) {
		invites, err := e.TaskInvites(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if invites == nil {
			invites = []domain.Invite{}
		}
		return &struct {
			Body []domain.Invite `json:"body"`
		}{Body: invites}, nil
	})
}

func registerInvites(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "respond-invite",
		Method:      http.MethodPost,
		Path:        "/invites/{invite_id}/respond",
		Summary:     "Accept or decline an invite",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		InviteID string               `path:"invite_id"`
		Body     RespondInviteRequest `json:"body"`
	}) (*struct {
		Body domain.Invite `json:"body"`
	}, error) {
		expertID, authErr := expertIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in, err := e.RespondInvite(ctx, input.InviteID, expertID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invite `json:"body"`
		}{Body: in}, nil
	})
}

func registerExperts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-expert",
		Method:        http.MethodPost,
		Path:          "/experts",
		Summary:       "Register expert profile",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateExpertRequest `json:"body"`
	}) (*struct {
		Body domain.ExpertProfile `json:"body"`
	}, error) {
		actorID, authErr := expertIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ExpertCreateOptions{
			Name:                  stringOrEmpty(input.Body.Name),
			Subjects:              input.Body.Subjects,
			MinPrice:              input.Body.MinPrice,
			MaxPrice:              input.Body.MaxPrice,
			Level:                 stringOrEmpty(input.Body.Level),
			RatingAvg:             input.Body.RatingAvg,
			RatingCount:           input.Body.RatingCount,
			AcceptRate:            input.Body.AcceptRate,
			MedianResponseMinutes: input.Body.MedianResponseMinutes,
			CompletedBySubject:    input.Body.CompletedBySubject,
			ActorID:               actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		p, err := e.CreateExpert(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExpertProfile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-experts",
		Method:      http.MethodGet,
		Path:        "/experts",
		Summary:     "List experts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ExpertProfile `json:"body"`
	}, error) {
		experts, err := e.Repo.ListExperts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if experts == nil {
			experts = []domain.ExpertProfile{}
		}
		return &struct {
			Body []domain.ExpertProfile `json:"body"`
		}{Body: experts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-expert",
		Method:      http.MethodGet,
		Path:        "/experts/{expert_id}",
		Summary:     "Get expert",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExpertID string `path:"expert_id"`
	}) (*struct {
		Body domain.ExpertProfile `json:"body"`
	}, error) {
		p, err := e.Repo.GetExpert(ctx, input.ExpertID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExpertProfile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-expert-invites",
		Method:      http.MethodGet,
		Path:        "/experts/{expert_id}/invites",
		Summary:     "List an expert's invites",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExpertID string `path:"expert_id"`
	}) (*struct {
		Body []domain.Invite `json:"body"`
	}, error) {
		invites, err := e.ExpertInvites(ctx, input.ExpertID)
		if err != nil {
			return nil, handleError(err)
		}
		if invites == nil {
			invites = []domain.Invite{}
		}
		return &struct {
			Body []domain.Invite `json:"body"`
		}{Body: invites}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-push-subscription",
		Method:        http.MethodPost,
		Path:          "/experts/{expert_id}/push-subscriptions",
		Summary:       "Register a Web Push endpoint",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExpertID string                  `path:"expert_id"`
		Body     PushSubscriptionRequest `json:"body"`
	}) (*struct {
		Body domain.PushSubscription `json:"body"`
	}, error) {
		expertID, authErr := expertIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if expertID != input.ExpertID {
			return nil, handleError(engine.ErrUnauthorized)
		}
		if input.Body.Endpoint == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "endpoint is required", nil)
		}
		if _, err := e.Repo.GetExpert(ctx, input.ExpertID); err != nil {
			return nil, handleError(err)
		}
		sub := domain.PushSubscription{
			ID:        uuid.New().String(),
			ExpertID:  input.ExpertID,
			Endpoint:  input.Body.Endpoint,
			P256dhKey: input.Body.P256dhKey,
			AuthKey:   input.Body.AuthKey,
		}
		if err := e.Repo.UpsertPushSubscription(ctx, sub); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PushSubscription `json:"body"`
		}{Body: sub}, nil
	})
}

func registerScheduler(api huma.API, s *scheduler.Scheduler) {
	type schedulerStatus struct {
		Running  bool   `json:"running"`
		Interval string `json:"interval"`
	}
	status := func() schedulerStatus {
		return schedulerStatus{Running: s.Running(), Interval: s.Interval.String()}
	}

	huma.Register(api, huma.Operation{
		OperationID: "scheduler-status",
		Method:      http.MethodGet,
		Path:        "/scheduler",
		Summary:     "Scheduler status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body schedulerStatus `json:"body"`
	}, error) {
		return &struct {
			Body schedulerStatus `json:"body"`
		}{Body: status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scheduler-start",
		Method:      http.MethodPost,
		Path:        "/scheduler/start",
		Summary:     "Start the background scheduler",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body schedulerStatus `json:"body"`
	}, error) {
		s.Start()
		return &struct {
			Body schedulerStatus `json:"body"`
		}{Body: status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scheduler-stop",
		Method:      http.MethodPost,
		Path:        "/scheduler/stop",
		Summary:     "Stop the background scheduler",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body schedulerStatus `json:"body"`
	}, error) {
		s.Stop()
		return &struct {
			Body schedulerStatus `json:"body"`
		}{Body: status()}, nil
	})
}

func registerSweeps(api huma.API, e engine.Engine) {
	type sweepResult struct {
		Count int `json:"count"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "sweep-released",
		Method:      http.MethodPost,
		Path:        "/sweeps/released",
		Summary:     "Release expired reservations now",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body sweepResult `json:"body"`
	}, error) {
		n, err := e.ReleaseExpiredReservations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body sweepResult `json:"body"`
		}{Body: sweepResult{Count: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-expansions",
		Method:      http.MethodPost,
		Path:        "/sweeps/expansions",
		Summary:     "Widen invite waves for overdue tasks now",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body sweepResult `json:"body"`
	}, error) {
		n, err := e.ProcessExpansions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body sweepResult `json:"body"`
		}{Body: sweepResult{Count: n}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event tail",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"100"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
