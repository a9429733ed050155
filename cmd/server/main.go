package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/portal-idjuv/casework/internal/config"
	"github.com/portal-idjuv/casework/internal/container"
	apihttp "github.com/portal-idjuv/casework/internal/interfaces/http"
	"github.com/portal-idjuv/casework/pkg/database"
	"github.com/portal-idjuv/casework/pkg/utils"
)

const defaultConfigPath = "configs/config.yaml"

type cli struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	path := c.configPath
	if !cmd.Flags().Changed("config") {
		// the default file is optional; defaults and environment still apply
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	c.cfg = cfg

	logger, err := utils.NewLogger(cfg.ToLoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger
	return nil
}

func (c *cli) serve(cmd *cobra.Command, args []string) error {
	defer c.logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c.logger.Info("Starting casework",
		zap.String("driver", c.cfg.Database.Driver),
		zap.Int("port", c.cfg.Server.Port))

	app, err := container.NewContainer(c.cfg.ToContainerConfig(), c.logger)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			c.logger.Error("Shutdown finished with errors", zap.Error(err))
		}
	}()

	server := apihttp.NewServer(
		c.cfg.ToServerConfig(),
		app.Engine(),
		app.Registry(),
		utils.NewSugaredKV(c.logger),
		apihttp.WithHealth(healthReport(app)),
	)

	return server.Start(ctx)
}

// healthReport exposes the container's component status on /health.
func healthReport(app *container.Container) apihttp.HealthFunc {
	return func(ctx context.Context) map[string]apihttp.ComponentHealth {
		status := app.Health(ctx)
		report := make(map[string]apihttp.ComponentHealth, len(status.Components))
		for name, comp := range status.Components {
			report[name] = apihttp.ComponentHealth{Healthy: comp.Healthy, Message: comp.Message}
		}
		return report
	}
}

func (c *cli) migrate(cmd *cobra.Command, args []string) error {
	defer c.logger.Sync()

	if c.cfg.Database.Driver != config.DriverSQLite {
		return fmt.Errorf("migrate needs the sqlite driver, configured driver is %q", c.cfg.Database.Driver)
	}

	ctx := cmd.Context()
	db, err := database.New(ctx, database.Config{Path: c.cfg.Database.Path}, c.logger)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := database.NewMigrator(db, c.logger).Run(ctx, database.Migrations())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", n, c.cfg.Database.Path)
	return nil
}

func (c *cli) definitions(cmd *cobra.Command, args []string) error {
	registry, err := container.ProvideRegistry(&container.WorkflowConfig{
		DefinitionsDir: c.cfg.Workflow.DefinitionsDir,
	}, zap.NewNop())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tINITIAL\tTERMINAL\tSTATUSES")
		for _, t := range registry.Types() {
			def, err := registry.Get(t)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", t, def.Initial(), joinStatuses(def.Terminal()), len(def.Statuses()))
		}
		return w.Flush()
	}

	def, err := registry.Get(args[0])
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FROM\tACTION\tTO\tREQUIRES\tROLES")
	for _, r := range def.Rules() {
		requires := append([]string{}, r.Required...)
		if r.RequireNote {
			requires = append(requires, "note")
		}
		roles := strings.Join(r.Roles, ",")
		if r.AssigneeOnly {
			roles = strings.TrimPrefix(roles+",assignee", ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.From, r.Action, r.To, strings.Join(requires, ","), roles)
	}
	return w.Flush()
}

func joinStatuses[S ~string](list []S) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:               "casework",
		Short:             "Case workflow engine for the portal modules",
		PersistentPreRunE: c.setup,
		SilenceUsage:      true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", defaultConfigPath, "path to the YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the scheduled transitions worker",
			Args:  cobra.NoArgs,
			RunE:  c.serve,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			Args:  cobra.NoArgs,
			RunE:  c.migrate,
		},
		&cobra.Command{
			Use:   "definitions [type]",
			Short: "List registered workflow types, or the transitions of one",
			Args:  cobra.MaximumNArgs(1),
			RunE:  c.definitions,
		},
	)
	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
