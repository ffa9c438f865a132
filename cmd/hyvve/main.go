package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hyvve/internal/app"
	"hyvve/internal/config"
	"hyvve/internal/db"
	"hyvve/internal/domain"
	"hyvve/internal/engine"
	"hyvve/internal/engine/hive"
	"hyvve/internal/migrate"
	"hyvve/internal/repo"
	"hyvve/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hyvve",
	Short: "Hyvve CLI",
	Long: `Hyvve runs the agent suggestion lifecycle for a project workspace.
Core concepts:
- Workspace: the .hyvve directory holding the database; config lives in hyvve.yml and is stored per project in the DB.
- Agents: the catalog (navi, sage, chrono) of copilots allowed to propose actions.
- Suggestions: agent proposals over a confidence score; high confidence auto-surfaces, the rest goes to the approval queue. Accepting executes the action, rejecting and expiry do not.
- Work items: features/bugs/chores moving backlog -> planned -> in_progress -> review -> done.
- Timers: one running timer per member; stopping writes a time entry.
- Estimation: historical comparables plus a self-correcting per-type baseline.
- Event log: diary of everything, view with 'hyvve log tail'.`,
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
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("HYVVE")
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
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(suggestionCmd())
	rootCmd.AddCommand(timerCmd())
	rootCmd.AddCommand(estimateCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
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
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, name, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var status, description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateProject(ctx, e.Config.Project.ID, status, descPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, paused, archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteProject(ctx, e.Config.Project.ID)
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "HYVVE_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set HYVVE_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage project config"}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "The scoreboard for your project: pending suggestions, work item counts per phase, and overall project state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := e.Config.Project.ID
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				pending, err := e.Repo.ListSuggestions(ctx, repo.SuggestionFilters{ProjectID: projectID, Status: "pending"})
				if err != nil {
					return err
				}
				items, err := e.Repo.ListWorkItems(ctx, repo.WorkItemFilters{ProjectID: projectID, Limit: 1000})
				if err != nil {
					return err
				}
				counts := map[string]int{}
				for _, w := range items {
					counts[w.Phase]++
				}
				out := map[string]any{
					"project_id":          p.ID,
					"status":              p.Status,
					"pending_suggestions": len(pending),
					"work_item_counts":    counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				fmt.Printf("Pending suggestions: %d\n", len(pending))
				fmt.Println("Work items:")
				for phase, c := range counts {
					fmt.Printf("  %s: %d\n", phase, c)
				}
				return nil
			})
		},
	}
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage work items",
		Long:  "Work items are the units of work (features, bugs, chores, docs). They flow backlog -> planned -> in_progress -> review -> done, with canceled as an exit.",
	}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemGetCmd())
	item.AddCommand(itemUpdateCmd())
	item.AddCommand(itemMoveCmd())
	item.AddCommand(itemAssignCmd())
	item.AddCommand(itemEstimateCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var itemType, title, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkItem(ctx, e.Config.Project.ID, hivePayload(itemType, title, description), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&itemType, "type", "feature", "work item type")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.WorkItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListWorkItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Phase", "Assignee", "Est (h)"})
				for _, w := range items {
					assignee := ""
					if w.AssigneeID != nil {
						assignee = *w.AssigneeID
					}
					est := ""
					if w.EstimateHours != nil {
						est = fmt.Sprintf("%.1f", *w.EstimateHours)
					}
					tw.AppendRow(table.Row{w.ID, w.Title, w.Type, w.Phase, assignee, est})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Phase, "phase", "", "phase filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func itemGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
}

func itemUpdateCmd() *cobra.Command {
	var title, description string
	var priority int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update work item fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkItem(ctx, id)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("title") || cmd.Flags().Changed("description") {
					p := hive.UpdateWorkItemPayload{WorkItemID: id}
					if cmd.Flags().Changed("title") {
						p.Title = &title
					}
					if cmd.Flags().Changed("description") {
						p.Description = &description
					}
					if w, err = e.UpdateWorkItem(ctx, p, actorID); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("priority") {
					if w, err = e.SetPriority(ctx, id, priority, actorID); err != nil {
						return err
					}
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower is higher)")
	return cmd
}

func itemMoveCmd() *cobra.Command {
	var phase string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Change work item phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.ChangePhase(ctx, args[0], phase, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&phase, "to", "", "target phase")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func itemAssignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.AssignWorkItem(ctx, args[0], assignee, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "to", "", "assignee id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func itemEstimateCmd() *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "estimate <id>",
		Short: "Set work item estimate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.ApplyEstimate(ctx, hive.EstimatePayload{WorkItemID: args[0], Hours: hours}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func suggestionCmd() *cobra.Command {
	sug := &cobra.Command{
		Use:   "suggestion",
		Short: "Manage agent suggestions",
		Long:  "Suggestions are agent proposals with a confidence score. Accepting executes the proposed action exactly once; rejecting and expiry leave the project untouched.",
	}
	sug.AddCommand(suggestionProposeCmd())
	sug.AddCommand(suggestionListCmd())
	sug.AddCommand(suggestionGetCmd())
	sug.AddCommand(suggestionAcceptCmd())
	sug.AddCommand(suggestionRejectCmd())
	sug.AddCommand(suggestionSweepCmd())
	return sug
}

func suggestionProposeCmd() *cobra.Command {
	var opts engine.ProposeOptions
	var payload string
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose a suggestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Payload = json.RawMessage(payload)
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				s, err := e.ProposeSuggestion(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Agent, "agent", "", "proposing agent")
	cmd.Flags().StringVar(&opts.ActionKind, "action", "", "action kind")
	cmd.Flags().StringVar(&payload, "payload-json", "{}", "action payload JSON")
	cmd.Flags().Float64Var(&opts.Confidence, "confidence", 0, "confidence in [0,1]")
	cmd.Flags().StringVar(&opts.Rationale, "rationale", "", "why the agent proposes this")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("confidence")
	return cmd
}

func suggestionListCmd() *cobra.Command {
	var f repo.SuggestionFilters
	var autoSurface string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				if autoSurface != "" {
					v := autoSurface == "true"
					f.AutoSurface = &v
				}
				items, err := e.Repo.ListSuggestions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Action", "Confidence", "Status", "Expires"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Agent, s.ActionKind, fmt.Sprintf("%.2f", s.Confidence), s.Status, s.ExpiresAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Agent, "agent", "", "agent filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ActionKind, "action", "", "action kind filter")
	cmd.Flags().StringVar(&autoSurface, "auto-surface", "", "auto-surface filter (true/false)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func suggestionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSuggestion(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func suggestionAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept and execute a suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.DecideSuggestion(ctx, args[0], "accept", viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func suggestionRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.DecideSuggestion(ctx, args[0], "reject", viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func suggestionSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue pending suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.SweepExpired(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"expired": n})
			})
		},
	}
}

func timerCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "timer",
		Short: "Track time",
		Long:  "One running timer per member. Start pins it to a work item; stop writes a time entry. Manual log backfills time without a timer.",
	}
	t.AddCommand(timerStartCmd())
	t.AddCommand(timerStopCmd())
	t.AddCommand(timerShowCmd())
	t.AddCommand(timerLogCmd())
	t.AddCommand(timerReportCmd())
	return t
}

func timerStartCmd() *cobra.Command {
	var workItemID, description string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.StartTimer(ctx, viper.GetString("actor-id"), e.Config.Project.ID, workItemID, description)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&workItemID, "item", "", "work item id")
	cmd.Flags().StringVar(&description, "description", "", "what you are doing")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func timerStopCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.StopTimer(ctx, viper.GetString("actor-id"), note)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note for the entry")
	return cmd
}

func timerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the running timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTimer(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func timerLogCmd() *cobra.Command {
	var opts engine.ManualTimeOptions
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Log time manually",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.UserID = viper.GetString("actor-id")
			opts.ActorID = opts.UserID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				entry, err := e.LogManualTime(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&opts.WorkItemID, "item", "", "work item id")
	cmd.Flags().Int64Var(&opts.DurationSeconds, "seconds", 0, "duration in seconds")
	cmd.Flags().StringVar(&opts.StartedAt, "started-at", "", "start timestamp (RFC3339, default now minus duration)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("seconds")
	return cmd
}

func timerReportCmd() *cobra.Command {
	var groupBy, from, to string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Aggregate logged time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.TimeReport(ctx, e.Config.Project.ID, groupBy, from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Logged (h)", "Estimate (h)", "Variance (h)", "Variance %"})
				for _, row := range rows {
					tw.AppendRow(table.Row{
						row.Key,
						fmt.Sprintf("%.1f", float64(row.TotalSeconds)/3600),
						fmt.Sprintf("%.1f", row.EstimateHours),
						fmt.Sprintf("%+.1f", row.VarianceHours),
						fmt.Sprintf("%+.1f%%", row.VariancePercent),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&groupBy, "group-by", "unit", "grouping (unit, phase, member)")
	cmd.Flags().StringVar(&from, "from", "", "start of range (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "end of range (RFC3339)")
	return cmd
}

func estimateCmd() *cobra.Command {
	est := &cobra.Command{
		Use:   "estimate",
		Short: "Estimation",
		Long:  "Estimates come from completed comparables of the same type, corrected by a per-type baseline that learns from past estimate error.",
	}
	est.AddCommand(estimateForecastCmd())
	est.AddCommand(estimateMetricsCmd())
	est.AddCommand(estimateBaselineCmd())
	return est
}

func estimateForecastCmd() *cobra.Command {
	var workType string
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Estimate a work type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				est, err := e.Estimate(ctx, e.Config.Project.ID, workType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(est)
				}
				fmt.Printf("%.1fh (%d points, %s confidence)\n", est.Hours, est.Points, est.ConfidenceLevel)
				fmt.Println("Basis:", est.Basis)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workType, "type", "", "work type")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func estimateMetricsCmd() *cobra.Command {
	var workType string
	var limit int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "List estimate-vs-actual history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMetrics(ctx, e.Config.Project.ID, workType, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&workType, "type", "", "work type filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func estimateBaselineCmd() *cobra.Command {
	var workType string
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Show the baseline for a work type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Repo.GetBaseline(ctx, e.Config.Project.ID, workType)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&workType, "type", "", "work type")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func chatCmd() *cobra.Command {
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Converse with an agent",
		Long:  "Append-only conversation history per (project, agent, member). Agent turns are grounded with retrieval snippets when a retrieval endpoint is configured.",
	}
	chat.AddCommand(chatSendCmd())
	chat.AddCommand(chatHistoryCmd())
	return chat
}

func chatSendCmd() *cobra.Command {
	var agent, role, message string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Append a conversation turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AppendTurn(ctx, engine.TurnOptions{
					ProjectID: e.Config.Project.ID,
					Agent:     agent,
					UserID:    viper.GetString("actor-id"),
					Role:      role,
					Message:   message,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent name")
	cmd.Flags().StringVar(&role, "role", "user", "turn role (user, agent)")
	cmd.Flags().StringVar(&message, "message", "", "message text")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func chatHistoryCmd() *cobra.Command {
	var agent string
	var afterID int64
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show conversation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTurns(ctx, repo.TurnFilters{
					ProjectID: e.Config.Project.ID,
					Agent:     agent,
					UserID:    viper.GetString("actor-id"),
					AfterID:   afterID,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, t := range items {
					fmt.Printf("[%s] %s (%s): %s\n", t.CreatedAt, t.Agent, t.Role, t.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent name")
	cmd.Flags().Int64Var(&afterID, "after", 0, "resume after turn id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: suggestions, work item changes, timers, and estimation updates.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
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

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Println("API key (store it now, it is not shown again):")
				fmt.Println(secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("HYVVE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("HYVVE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Hyvve API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
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
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), viper.GetString("actor-id"), r)
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

func hivePayload(itemType, title, description string) hive.CreateWorkItemPayload {
	return hive.CreateWorkItemPayload{Type: itemType, Title: title, Description: description}
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
