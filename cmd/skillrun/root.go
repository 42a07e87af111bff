package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/skillrun/internal/catalog"
	"github.com/rendis/skillrun/internal/engine"
	"github.com/rendis/skillrun/internal/logging"
	"github.com/rendis/skillrun/internal/scheduler"
	"github.com/rendis/skillrun/internal/store"
	"github.com/rendis/skillrun/internal/streaming"
	"github.com/rendis/skillrun/internal/tools"
	"github.com/rendis/skillrun/internal/validation"
	"github.com/rendis/skillrun/pkg/mcp"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "skillrun",
		Short:         "Skill execution engine",
		Long:          "Skillrun executes declarative skills: ordered tool and compute steps with templating, conditions, confirmations, and failure policies.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// runtime bundles the wired components shared by the serve and run commands.
type runtime struct {
	cfg     Config
	logger  *slog.Logger
	store   store.Store
	catalog *catalog.Catalog
	hub     *streaming.MemoryHub
	engine  *engine.Engine
}

func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	cat := catalog.New()
	if _, statErr := os.Stat(cfg.SkillsDir); statErr == nil {
		loaded, loadErr := cat.LoadDir(cfg.SkillsDir)
		if loadErr != nil {
			return nil, fmt.Errorf("load skills: %w", loadErr)
		}
		logger.Info("skills loaded", slog.Int("count", loaded), slog.String("dir", cfg.SkillsDir))
	}

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg, tools.HTTPConfig{}); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	hub := streaming.NewMemoryHub()
	eng, err := engine.New(cat, reg, st, hub, nil, engine.Config{MaxConcurrentRuns: cfg.PoolSize}, logger)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	if cfg.RetainPerSkill > 0 {
		if pruned, pruneErr := st.PruneExecutions(ctx, cfg.RetainPerSkill); pruneErr != nil {
			logger.Warn("prune failed", slog.String("error", pruneErr.Error()))
		} else if pruned > 0 {
			logger.Info("old executions pruned", slog.Int("count", pruned))
		}
	}

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		catalog: cat,
		hub:     hub,
		engine:  eng,
	}, nil
}

func (rt *runtime) close() {
	rt.engine.Shutdown()
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func newServeCmd() *cobra.Command {
	var schedules []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over MCP stdio",
		Long: `Start the MCP server on stdio. Agent clients drive the engine through
the skill.run, skill.status, skill.confirm, skill.cancel, and skill.list tools.

Recurring runs can be registered with --schedule "CRON|skill", e.g.
--schedule "0 3 * * *|nightly-backup".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if len(schedules) > 0 {
				sched := scheduler.NewScheduler(scheduler.RunnerFunc(
					func(runCtx context.Context, skillName string, inputs map[string]any) error {
						_, runErr := rt.engine.Execute(runCtx, skillName, inputs, nil)
						return runErr
					}), rt.logger)
				for _, spec := range schedules {
					cronExpr, skillName, ok := strings.Cut(spec, "|")
					if !ok {
						return fmt.Errorf("invalid --schedule %q, expected \"CRON|skill\"", spec)
					}
					if _, schedErr := sched.Schedule(strings.TrimSpace(cronExpr), strings.TrimSpace(skillName), nil); schedErr != nil {
						return schedErr
					}
				}
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer func() { _ = sched.Stop() }()
			}

			srv := mcp.NewSkillrunServer(mcp.SkillrunServerDeps{
				Engine:  rt.engine,
				Store:   rt.store,
				Catalog: rt.catalog,
				Logger:  rt.logger,
			})
			rt.logger.Info("mcp server listening on stdio")
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().StringArrayVar(&schedules, "schedule", nil, `recurring run as "CRON|skill" (repeatable)`)
	return cmd
}

func newRunCmd() *cobra.Command {
	var inputPairs []string
	var inputJSON string

	cmd := &cobra.Command{
		Use:   "run <skill>",
		Short: "Execute a skill and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			inputs, err := parseInputs(inputPairs, inputJSON)
			if err != nil {
				return err
			}

			record, runErr := rt.engine.Execute(ctx, args[0], inputs, nil)
			if record == nil {
				return runErr
			}

			out, marshalErr := json.MarshalIndent(record, "", "  ")
			if marshalErr != nil {
				return marshalErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return runErr
		},
	}

	cmd.Flags().StringArrayVarP(&inputPairs, "input", "i", nil, "input as key=value (repeatable)")
	cmd.Flags().StringVar(&inputJSON, "inputs-json", "", "inputs as a JSON object (overrides --input)")
	return cmd
}

// parseInputs builds the input map from key=value pairs or a JSON object.
func parseInputs(pairs []string, raw string) (map[string]any, error) {
	if raw != "" {
		var inputs map[string]any
		if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
			return nil, fmt.Errorf("invalid --inputs-json: %w", err)
		}
		return inputs, nil
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered skills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			skills := rt.catalog.List()
			if len(skills) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no skills registered")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tDESCRIPTION")
			for _, s := range skills {
				fmt.Fprintf(w, "%s\t%d\t%s\n", s.Name, s.Steps, s.Description)
			}
			return w.Flush()
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a skill definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := catalog.LoadFile(args[0])
			if err != nil {
				return err
			}

			reg := tools.NewRegistry()
			if err := tools.RegisterBuiltins(reg, tools.HTTPConfig{}); err != nil {
				return err
			}
			validator, err := validation.NewSkillValidator(reg)
			if err != nil {
				return err
			}
			if err := validator.ValidateDefinition(def); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d steps)\n", def.Name, len(def.Steps))
			return nil
		},
	}
}
