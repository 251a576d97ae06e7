package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"idptrack/internal/app"
	"idptrack/internal/config"
	"idptrack/internal/db"
	"idptrack/internal/logging"
	"idptrack/internal/migrate"
	"idptrack/internal/repo"
	"idptrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "idp",
	Short: "Individual development plan tracker",
	Long: `idp tracks employee development plans and their tasks.
- Plans move draft -> draft_approval -> active -> (two_weeks -> overdue) -> completed_approval -> closed; cancelled exits at any time.
- Changing a plan's status cascades to its tasks; closing the last open task asks the chief to confirm the plan.
- Every status or tracked field change leaves a notification for the employee, chief or mentor.
- Two weeks before and at the planned end, the scheduler moves active plans and tasks on its own ('idp scheduler run').
- Workspace: the .idptrack directory holds the database; idptrack.yml holds the notification catalog and settings.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := filepath.Join(viper.GetString("workspace"), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", envFile, err)
	}
	viper.SetEnvPrefix("IDPTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "user performing the change")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().String("log-file", "", "rotated log file (overrides config)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "log-file"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default idptrack.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace database and scheduler state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := migrate.Version(a.DB)
				if err != nil {
					return err
				}
				pending, err := a.Engine.Repo.ListJobs(ctx, "", "", true)
				if err != nil {
					return err
				}
				plans, err := a.Engine.Repo.ListIDPs(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"database":       db.Path(a.Workspace),
					"schema_version": st.Current,
					"schema_latest":  st.Latest,
					"schema_dirty":   st.Dirty,
					"plans":          len(plans),
					"pending_jobs":   len(pending),
					"scheduling":     a.Config.SchedulingEnabled(),
				})
			})
		},
	}
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Notification catalog"}
	show := &cobra.Command{
		Use:   "show",
		Short: "List catalog entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListCatalog(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Trigger", "Name", "Description"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Trigger, n.Name, n.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	var file string
	var prune bool
	imp := &cobra.Command{
		Use:   "import",
		Short: "Load catalog entries from a YAML or TOML config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries := cfg.CatalogEntries()
				if err := a.Engine.Repo.UpsertCatalog(ctx, entries); err != nil {
					return err
				}
				removed := 0
				if prune {
					keep := map[string]bool{}
					for _, n := range entries {
						keep[n.Trigger] = true
					}
					stored, err := a.Engine.Repo.ListCatalog(ctx)
					if err != nil {
						return err
					}
					for _, n := range stored {
						if keep[n.Trigger] {
							continue
						}
						if err := a.Engine.Repo.DeleteCatalogEntry(ctx, n.Trigger); err != nil {
							return err
						}
						removed++
					}
				}
				fmt.Printf("imported %d entries, removed %d\n", len(entries), removed)
				return nil
			})
		},
	}
	imp.Flags().StringVar(&file, "file", "", "config file (.yml or .toml)")
	imp.Flags().BoolVar(&prune, "prune", false, "delete stored entries missing from the file")
	_ = imp.MarkFlagRequired("file")
	cmd.AddCommand(show, imp)
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Audit trail of every plan and task change.",
	}
	var n int
	var f repo.EventFilter
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f.Limit = n
				events, err := a.Engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withScheduler, allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("IDPTRACK_JWT_SECRET is required for bearer auth; run idp token to create one")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, AllowUserHeader: allowUserHeader, Log: logging.Logger},
				})
				if err != nil {
					return err
				}
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				if withScheduler && a.Config.SchedulingEnabled() {
					go func() {
						if err := a.Runner().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
							logging.Logger.WithError(err).Error("scheduler stopped")
						}
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
					defer stop()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving idptrack API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&withScheduler, "scheduler", true, "run the deferred transition poller in-process")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "accept X-User-Id without a token (local use only)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an API token for a user",
		Long:  "Mints a bearer token for the HTTP API. Without IDPTRACK_JWT_SECRET a secret is generated and stored in the workspace .env.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				envFile := filepath.Join(viper.GetString("workspace"), ".env")
				env, err := godotenv.Read(envFile)
				if err != nil {
					if !errors.Is(err, os.ErrNotExist) {
						return err
					}
					env = map[string]string{}
				}
				secret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				env["IDPTRACK_JWT_SECRET"] = secret
				if err := godotenv.Write(env, envFile); err != nil {
					return err
				}
				fmt.Fprintln(os.Stderr, "stored a new JWT secret in", envFile)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Repo.GetUser(ctx, args[0]); err != nil {
					return fmt.Errorf("user %s: %w", args[0], err)
				}
				token, err := server.SignToken(secret, args[0], ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 never expires)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
		LogFile:   viper.GetString("log-file"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
