package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/plan"
	"planline/internal/repo"
	"planline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pln",
	Short: "Planline CLI",
	Long: `Planline schedules project plans with the critical path method and
quantifies schedule risk.
- Workspace: a directory holding planline.yml and the .planline database.
- Plan: a YAML file describing calendars, activities, links, constraints,
  and optional duration distributions; import it with 'pln project import'.
- Schedule: 'pln schedule' runs the calendar-aware CPM pass and persists
  early/late dates, total float, and the critical flag per activity.
- Check: 'pln check' evaluates schedule-quality rules (open ends, negative
  lags, long durations, large floats, broken logic) against thresholds.
- Simulate: 'pln simulate' runs a Monte Carlo pass over the duration
  distributions and reports percentiles, criticality, and sensitivity.
- Event log: every import, schedule, and simulation run is recorded;
  view it with 'pln log tail'.`,
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
	viper.SetEnvPrefix("PLANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectImportCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a plan YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := plan.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, count, err := e.ImportPlan(ctx, f, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project_id": p.ID, "activities": count})
				}
				fmt.Printf("Imported project %s: %d activities\n", p.ID, count)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to plan YAML")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "Name", "Status", "Start", "Status date"})
				for _, p := range items {
					t.AppendRow(table.Row{p.ID, p.Name, p.Status, p.ProjectStart, p.StatusDate})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default planline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project-id required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "", "project id")
	_ = cmd.MarkFlagRequired("project-id")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"), viper.GetString("project"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Compute and persist the CPM schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				net, err := e.RunSchedule(ctx, p.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project_id":     p.ID,
						"project_finish": net.ProjectFinish.Format("2006-01-02"),
						"total_duration": net.TotalDuration,
						"critical_path":  net.CriticalPath(),
						"activities":     net.Activities,
					})
				}
				t := newTable()
				t.AppendHeader(table.Row{"ID", "Name", "Dur", "ES", "EF", "LS", "LF", "Float", "Crit"})
				for _, a := range net.Activities {
					crit := ""
					if a.Critical {
						crit = "*"
					}
					t.AppendRow(table.Row{
						a.ID, a.Name, a.DurationDays,
						a.EarlyStart.Format("2006-01-02"), a.EarlyFinish.Format("2006-01-02"),
						a.LateStart.Format("2006-01-02"), a.LateFinish.Format("2006-01-02"),
						a.TotalFloat, crit,
					})
				}
				t.Render()
				fmt.Printf("Project finish: %s (%d work days)\n", net.ProjectFinish.Format("2006-01-02"), net.TotalDuration)
				return nil
			})
		},
	}
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run schedule-quality checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				findings, _, err := e.RunCheck(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(findings)
				}
				if len(findings) == 0 {
					fmt.Println("No findings.")
					return nil
				}
				t := newTable()
				t.AppendHeader(table.Row{"Activity", "Check", "Severity", "Message"})
				for _, f := range findings {
					t.AppendRow(table.Row{f.ActivityID, string(f.Kind), string(f.Severity), f.Message})
				}
				t.Render()
				warnings := 0
				for _, f := range findings {
					if f.Severity == domain.SeverityWarning {
						warnings++
					}
				}
				fmt.Printf("%d findings (%d warnings)\n", len(findings), warnings)
				return nil
			})
		},
	}
	return cmd
}

func simulateCmd() *cobra.Command {
	var iterations, workers int
	var seed int64
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a Monte Carlo schedule-risk simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				opts := engine.SimulateOptions{Iterations: iterations, Workers: workers}
				if cmd.Flags().Changed("seed") {
					opts.Seed = seed
					opts.SeedSet = true
				}
				res, err := e.RunSimulate(ctx, p.ID, viper.GetString("actor-id"), opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Run %s: %d/%d iterations (seed %d)\n", res.RunID, res.Iterations, res.Requested, res.Seed)
				if res.Canceled {
					fmt.Println("Run was canceled before completing; results cover finished iterations only.")
				}
				fmt.Printf("Total duration: P10=%d P50=%d P80=%d P90=%d work days\n",
					res.Percentile(10), res.Percentile(50), res.Percentile(80), res.Percentile(90))
				t := newTable()
				t.AppendHeader(table.Row{"Activity", "Criticality %", "Sensitivity"})
				for _, a := range activityOrder(res) {
					t.AppendRow(table.Row{a, res.Criticality[a], fmt.Sprintf("%.3f", res.Sensitivity[a])})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 0, "iteration count (default from config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count (default one per CPU)")
	return cmd
}

func activityOrder(res *domain.SimulationResult) []string {
	ids := make([]string, 0, len(res.Criticality))
	for id := range res.Criticality {
		ids = append(ids, id)
	}
	// Highest criticality first, id as tie break.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0; j-- {
			a, b := ids[j-1], ids[j]
			if res.Criticality[b] > res.Criticality[a] || (res.Criticality[b] == res.Criticality[a] && b < a) {
				ids[j-1], ids[j] = b, a
			} else {
				break
			}
		}
	}
	return ids
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
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				events, err := e.Repo.ListEvents(ctx, p.ID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace, viper.GetString("project"))
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PLANLINE_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Server.JWTSecret
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Planline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				rawKey := "pln_" + hex.EncodeToString(raw)
				k := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(rawKey),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				fmt.Printf("API key for %s: %s\n", actor, rawKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
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
	cfg, err := config.LoadOptional(workspace, viper.GetString("project"))
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
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
