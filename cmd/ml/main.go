package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"matchline/internal/config"
	"matchline/internal/db"
	"matchline/internal/domain"
	"matchline/internal/engine"
	"matchline/internal/migrate"
	"matchline/internal/notify"
	"matchline/internal/repo"
	"matchline/internal/scheduler"
	"matchline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ml",
	Short: "Matchline CLI",
	Long: `Matchline matches tasks to experts and manages soft-claim reservations.
Core concepts:
- Workspace: the .matchline directory holding the database; matchline.yml holds tunables.
- Tasks: work items posted with a subject, price and deadline; they flow open -> reserved -> claimed.
- Experts: profiles with subjects, price range and reputation; matching ranks them per task.
- Invites: waves of invitations sent to the next-best uninvited experts; waves widen until someone claims.
- Reservations: a soft claim holds a task exclusively for a short TTL; confirm inside the window or the task reopens.
- Scheduler: the background sweep that expires stale reservations and widens waves.
- Event log: diary of changes, view with 'ml log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MATCHLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("expert-id", "local-user", "expert identifier for CLI operations")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("expert-id", rootCmd.PersistentFlags().Lookup("expert-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCommand())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(expertCmd())
	rootCmd.AddCommand(inviteCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCommand() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write default matchline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate matchline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks carry a subject, price and deadline. Creating one kicks off the first invite wave; experts soft-claim and confirm to win the task.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskCancelCmd())
	task.AddCommand(taskClaimCmd())
	task.AddCommand(taskConfirmCmd())
	task.AddCommand(taskReleaseCmd())
	task.AddCommand(taskReservationCmd())
	task.AddCommand(taskWaveCmd())
	task.AddCommand(taskInvitesCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var deadlineIn time.Duration
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task and issue the first invite wave",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("expert-id")
			if opts.DeadlineAt == "" && deadlineIn > 0 {
				opts.DeadlineAt = time.Now().UTC().Add(deadlineIn).Format(time.RFC3339)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional)")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Float64Var(&opts.Price, "price", 0, "offered price")
	cmd.Flags().StringVar(&opts.DeadlineAt, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().DurationVar(&deadlineIn, "deadline-in", 0, "deadline relative to now (e.g. 4h)")
	cmd.Flags().BoolVar(&opts.SkipFirstWave, "skip-first-wave", false, "create without inviting anyone")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Subject", "Title", "Status", "Reserved By", "Wave", "Invited"})
				for _, t := range tasks {
					reservedBy := ""
					if t.ReservedBy != nil {
						reservedBy = *t.ReservedBy
					}
					tw.AppendRow(table.Row{t.ID, t.Subject, t.Title, t.Status, reservedBy, t.CurrentWave, t.InvitedNow})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Subject, "subject", "", "subject filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an open task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CancelTask(ctx, args[0], viper.GetString("expert-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Soft-claim a task (time-limited reservation)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SoftClaim(ctx, args[0], viper.GetString("expert-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm a reservation into a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ConfirmClaim(ctx, args[0], viper.GetString("expert-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release your own reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CancelReservation(ctx, args[0], viper.GetString("expert-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskReservationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservation <id>",
		Short: "Show a task's current reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.TaskReservation(ctx, args[0])
				if err != nil {
					return err
				}
				if res == nil {
					fmt.Println("not reserved")
					return nil
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func taskWaveCmd() *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use:   "wave <id>",
		Short: "Issue the next invite wave for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				invites, err := e.IssueWave(ctx, args[0], max)
				if err != nil {
					return err
				}
				if len(invites) == 0 {
					fmt.Println("no new invites")
					return nil
				}
				return printInvites(invites)
			})
		},
	}
	cmd.Flags().IntVar(&max, "max", 0, "max invites (0 = configured wave size)")
	return cmd
}

func taskInvitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invites <id>",
		Short: "List a task's invites",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				invites, err := e.TaskInvites(ctx, args[0])
				if err != nil {
					return err
				}
				return printInvites(invites)
			})
		},
	}
	return cmd
}

func expertCmd() *cobra.Command {
	expert := &cobra.Command{
		Use:   "expert",
		Short: "Manage expert profiles",
	}
	expert.AddCommand(expertCreateCmd())
	expert.AddCommand(expertListCmd())
	expert.AddCommand(expertGetCmd())
	expert.AddCommand(expertInvitesCmd())
	return expert
}

func expertCreateCmd() *cobra.Command {
	var opts engine.ExpertCreateOptions
	var minPrice, maxPrice float64
	var completed []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an expert profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("expert-id")
			if cmd.Flags().Changed("min-price") {
				opts.MinPrice = &minPrice
			}
			if cmd.Flags().Changed("max-price") {
				opts.MaxPrice = &maxPrice
			}
			for _, c := range completed {
				subject, count, ok := strings.Cut(c, "=")
				if !ok {
					return fmt.Errorf("invalid --completed %q, expected subject=count", c)
				}
				n, err := strconv.Atoi(count)
				if err != nil {
					return fmt.Errorf("invalid --completed %q: %w", c, err)
				}
				if opts.CompletedBySubject == nil {
					opts.CompletedBySubject = map[string]int{}
				}
				opts.CompletedBySubject[subject] = n
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateExpert(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "expert id (optional)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringArrayVar(&opts.Subjects, "subject", []string{}, "subject (repeatable)")
	cmd.Flags().Float64Var(&minPrice, "min-price", 0, "minimum price")
	cmd.Flags().Float64Var(&maxPrice, "max-price", 0, "maximum price")
	cmd.Flags().StringVar(&opts.Level, "level", "", "expert level")
	cmd.Flags().Float64Var(&opts.RatingAvg, "rating-avg", 0, "average rating")
	cmd.Flags().IntVar(&opts.RatingCount, "rating-count", 0, "rating count")
	cmd.Flags().Float64Var(&opts.AcceptRate, "accept-rate", 0, "historical accept rate [0,1]")
	cmd.Flags().Float64Var(&opts.MedianResponseMinutes, "median-response-minutes", 0, "median response time in minutes")
	cmd.Flags().StringArrayVar(&completed, "completed", []string{}, "completed tasks per subject as subject=count (repeatable)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func expertListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List experts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				experts, err := e.Repo.ListExperts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(experts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Subjects", "Rating", "Accept Rate"})
				for _, p := range experts {
					tw.AppendRow(table.Row{p.ID, p.Name, strings.Join(p.Subjects, ","),
						fmt.Sprintf("%.1f (%d)", p.RatingAvg, p.RatingCount), fmt.Sprintf("%.2f", p.AcceptRate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func expertGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get expert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetExpert(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func expertInvitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invites [id]",
		Short: "List an expert's invites (defaults to --expert-id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expertID := viper.GetString("expert-id")
			if len(args) == 1 {
				expertID = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				invites, err := e.ExpertInvites(ctx, expertID)
				if err != nil {
					return err
				}
				return printInvites(invites)
			})
		},
	}
	return cmd
}

func inviteCmd() *cobra.Command {
	invite := &cobra.Command{Use: "invite", Short: "Respond to invites"}
	invite.AddCommand(inviteAcceptCmd())
	invite.AddCommand(inviteDeclineCmd())
	return invite
}

func inviteAcceptCmd() *cobra.Command {
	return inviteRespondCmd("accept", "Accept an invite", domain.InviteAccepted)
}

func inviteDeclineCmd() *cobra.Command {
	return inviteRespondCmd("decline", "Decline an invite", domain.InviteDeclined)
}

func inviteRespondCmd(verb, short, status string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " <invite-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in, err := e.RespondInvite(ctx, args[0], viper.GetString("expert-id"), status)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance sweep (expire reservations, widen waves)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				released, err := e.ReleaseExpiredReservations(ctx)
				if err != nil {
					return err
				}
				expanded, err := e.ProcessExpansions(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"released": released, "expanded": expanded})
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name, expertID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an expert",
		RunE: func(cmd *cobra.Command, args []string) error {
			if expertID == "" {
				expertID = viper.GetString("expert-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ExpertID:  expertID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The raw key is shown once and only its hash is stored.
				return printJSONOrTable(map[string]string{"id": key.ID, "expert_id": expertID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringVar(&expertID, "expert", "", "expert the key authenticates as")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var expertID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, expertID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&expertID, "expert", "", "filter by expert id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Notifier = notify.NewSender(e.Repo, cfg, nil)
			sched := scheduler.New(e, cfg.SweepInterval(), nil)
			if !noScheduler {
				sched.Start()
				defer sched.Stop()
			}
			authCfg := server.AuthConfig{
				JWTSecret:               cfg.Auth.JWTSecret,
				AllowLegacyExpertHeader: cfg.Auth.AllowLegacyExpertHeader,
			}
			if secret := os.Getenv("MATCHLINE_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			handler, err := server.New(server.Config{Engine: e, Scheduler: sched, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Matchline API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not start the background sweep")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.Notifier = notify.NewSender(e.Repo, cfg, nil)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printInvites(invites []domain.Invite) error {
	if viper.GetBool("json") {
		return printJSON(invites)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Task", "Expert", "Wave", "Score", "Status"})
	for _, in := range invites {
		tw.AppendRow(table.Row{in.ID, in.TaskID, in.ExpertID, in.Wave, fmt.Sprintf("%.3f", in.Score), in.Status})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
