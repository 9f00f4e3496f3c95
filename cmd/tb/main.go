package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/auth"
	"taskboard/internal/migrate"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskboard CLI",
	Long: `Taskboard is a task board for people and the AI agents working for them.
- Users sign up in the browser and mint API keys for their agents.
- Agents claim tasks, block on questions, log progress and complete with a result.
- Statuses move todo -> in_progress -> blocked/review -> done.
- Every change lands in the task's activity log.

The CLI works directly against the workspace database as the user named by --user.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "", "e-mail of the user to act as")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(attachmentCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := a.Handler()
				if err != nil {
					return err
				}
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					_ = srv.Shutdown(sctx)
				}()
				a.Logger.Info("serving taskboard", "addr", addr, "base_path", a.Config.Server.BasePath, "driver", a.DB.Driver)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(app.DBConfig(cfg))
			if err != nil {
				return err
			}
			defer conn.Close()
			n, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"applied": n, "driver": conn.Driver})
			}
			fmt.Printf("applied %d migration(s) on %s\n", n, conn.Driver)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect taskboard.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskboard.yml into the workspace",
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
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config without secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.FromFile(config.Path(viper.GetString("workspace")))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage accounts"}
	usr.AddCommand(userCreateCmd())
	return usr
}

func userCreateCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("TASKBOARD_PASSWORD")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Accounts.Signup(ctx, email, password)
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account e-mail")
	cmd.Flags().StringVar(&password, "password", "", "account password (or TASKBOARD_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage agent API keys"}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyRevokeCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var name string
	var read, write bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				k, plaintext, err := a.Credentials.Create(ctx, id.UserID, name, domain.Permissions{Read: read, Write: write})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"api_key": k, "key": plaintext})
				}
				fmt.Printf("created key %s (%s)\n%s\n", k.ID, k.Name, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name recorded in activity")
	cmd.Flags().BoolVar(&read, "read", true, "allow reads")
	cmd.Flags().BoolVar(&write, "write", false, "allow writes")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func keyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				keys, err := a.Credentials.List(ctx, id.UserID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Read", "Write", "Last used", "Created"})
				for _, k := range keys {
					lastUsed := "never"
					if k.LastUsedAt != nil {
						lastUsed = ago(*k.LastUsedAt)
					}
					tw.AppendRow(table.Row{k.ID, k.Name, k.Permissions.Read, k.Permissions.Write, lastUsed, ago(k.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func keyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				if err := a.Credentials.Revoke(ctx, id.UserID, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskNextCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskBlockCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskReviewCmd())
	task.AddCommand(taskLogCmd())
	task.AddCommand(taskActivityCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status, intent, agent, parent string
	var all bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				page, err := a.Engine.ListTasks(ctx, id, engine.ListOptions{
					Status:         domain.Status(status),
					Intent:         domain.Intent(intent),
					AssignedAgent:  agent,
					ParentTaskID:   parent,
					IncludeDeleted: all,
					Limit:          limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Intent", "Priority", "Agent", "Updated"})
				for _, t := range page.Tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Intent, t.Priority, deref(t.AssignedAgent), ago(t.UpdatedAt)})
				}
				tw.Render()
				if page.NextCursor != "" {
					fmt.Println("more results available")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&intent, "intent", "", "intent filter")
	cmd.Flags().StringVar(&agent, "agent", "", "assigned agent filter")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task filter")
	cmd.Flags().BoolVar(&all, "all", false, "include deleted tasks")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				t, err := a.Engine.GetTask(ctx, id, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var in engine.TaskInput
	var intent, contextJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parseDocument("context", contextJSON)
			if err != nil {
				return err
			}
			in.Context = doc
			in.Intent = domain.Intent(intent)
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				t, err := a.Engine.CreateTask(ctx, id, in)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "task title")
	cmd.Flags().StringVar(&in.Description, "description", "", "task description")
	cmd.Flags().StringVar(&intent, "intent", "", "research, build, write, think, admin or ops")
	cmd.Flags().IntVar(&in.Priority, "priority", 0, "higher runs first")
	cmd.Flags().StringVar(&contextJSON, "context", "", "context JSON object")
	cmd.Flags().StringVar(&in.ParentTaskID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&in.AssignedAgent, "agent", "", "assigned agent")
	cmd.Flags().BoolVar(&in.RequiresHumanReview, "review", false, "require human review")
	cmd.Flags().StringSliceVar(&in.Artifacts, "artifact", nil, "artifact reference (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskNextCmd() *cobra.Command {
	var intent, agent string
	var claim bool
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show, or claim, the next task for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				if agent != "" {
					id.Actor = agent
				}
				t, err := a.Engine.NextTask(ctx, id, engine.NextOptions{Intent: domain.Intent(intent), Agent: agent, Claim: claim})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&intent, "intent", "", "intent filter")
	cmd.Flags().StringVar(&agent, "agent", "", "agent name (defaults to the user)")
	cmd.Flags().BoolVar(&claim, "claim", false, "start the task")
	return cmd
}

func taskStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <task-id>",
		Short: "Claim a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				t, err := a.Engine.Start(ctx, id, args[0])
				if err != nil {
					return err
				}
				return printTaskStatus(t)
			})
		},
	}
}

func taskBlockCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "block <task-id>",
		Short: "Block a task with a reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				t, err := a.Engine.Block(ctx, id, args[0], reason)
				if err != nil {
					return err
				}
				return printTaskStatus(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "what the task is waiting on")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var resultJSON string
	var confidence float64
	var artifacts []string
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parseDocument("result", resultJSON)
			if err != nil {
				return err
			}
			in := engine.CompleteInput{Result: doc, Artifacts: artifacts}
			if cmd.Flags().Changed("confidence") {
				in.Confidence = &confidence
			}
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				t, err := a.Engine.Complete(ctx, id, args[0], in)
				if err != nil {
					return err
				}
				return printTaskStatus(t)
			})
		},
	}
	cmd.Flags().StringVar(&resultJSON, "result", "", "result JSON object")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "confidence between 0 and 1")
	cmd.Flags().StringSliceVar(&artifacts, "artifact", nil, "artifact reference (repeatable)")
	return cmd
}

func taskReviewCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "review <task-id>",
		Short: "Request human review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				t, err := a.Engine.RequestReview(ctx, id, args[0], note)
				if err != nil {
					return err
				}
				return printTaskStatus(t)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note for the reviewer")
	return cmd
}

func taskLogCmd() *cobra.Command {
	var action, detailsJSON string
	cmd := &cobra.Command{
		Use:   "log <task-id>",
		Short: "Append an activity entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := parseDocument("details", detailsJSON)
			if err != nil {
				return err
			}
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				l, err := a.Engine.Log(ctx, id, args[0], engine.LogInput{Action: action, Details: doc})
				if err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", string(domain.ActionUpdated), "activity action")
	cmd.Flags().StringVar(&detailsJSON, "details", "", "details JSON object")
	return cmd
}

func taskActivityCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity <task-id>",
		Short: "Show a task's activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				logs, err := a.Engine.ListActivity(ctx, id, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(logs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Agent", "Action", "Details"})
				for _, l := range logs {
					details, _ := json.Marshal(l.Details)
					tw.AppendRow(table.Row{ago(l.CreatedAt), l.Agent, l.Action, string(details)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Soft-delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				if err := a.Engine.DeleteTask(ctx, id, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func attachmentCmd() *cobra.Command {
	att := &cobra.Command{Use: "attachment", Short: "Manage task attachments"}
	att.AddCommand(attachmentListCmd())
	att.AddCommand(attachmentAddCmd())
	return att
}

func attachmentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				items, err := a.Engine.ListAttachments(ctx, id, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Filename", "Type", "Size", "Added"})
				for _, at := range items {
					tw.AppendRow(table.Row{at.ID, at.Filename, at.ContentType, humanize.Bytes(uint64(at.Size)), ago(at.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func attachmentAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <task-id> <file>",
		Short: "Attach a file to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			name := filepath.Base(args[1])
			return withIdentity(cmd.Context(), func(ctx context.Context, a *app.App, id auth.Identity) error {
				at, err := a.Engine.AddAttachment(ctx, id, args[0], engine.AttachmentInput{
					Filename:    name,
					ContentType: mime.TypeByExtension(filepath.Ext(name)),
					Body:        f,
				})
				if err != nil {
					return err
				}
				return printJSON(at)
			})
		},
	}
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if cfg.Storage.Dir != "" && !filepath.IsAbs(cfg.Storage.Dir) {
		cfg.Storage.Dir = filepath.Join(workspace, cfg.Storage.Dir)
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(os.Stderr, cfg.Log.Level, viper.GetBool("json"))
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withIdentity(ctx context.Context, fn func(context.Context, *app.App, auth.Identity) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		id, err := a.Identity(ctx, viper.GetString("user"))
		if err != nil {
			return err
		}
		return fn(ctx, a, id)
	})
}

func parseDocument(field, raw string) (domain.Document, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var doc domain.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", field, err)
	}
	return doc, nil
}

func printTaskStatus(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	fmt.Printf("%s %s [%s]\n", t.ID, t.Title, t.Status)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ago(ts string) string {
	t, err := time.Parse(domain.TimeFormat, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
