package container

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/portal-idjuv/casework/internal/application/dispatcher"
	"github.com/portal-idjuv/casework/internal/application/port"
	"github.com/portal-idjuv/casework/internal/application/workflow"
	"github.com/portal-idjuv/casework/internal/domain/event"
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
	"github.com/portal-idjuv/casework/internal/infrastructure/persistence/memory"
	"github.com/portal-idjuv/casework/internal/infrastructure/persistence/sqlite"
	"github.com/portal-idjuv/casework/internal/infrastructure/worker"
	"github.com/portal-idjuv/casework/pkg/database"
	"github.com/portal-idjuv/casework/pkg/utils"
)

// StorageBundle holds the persistence ports the engine needs.
type StorageBundle struct {
	// DB is nil for the memory driver
	DB        *database.DB
	Cases     port.CaseRepository
	Audit     port.AuditRepository
	TxManager port.TransactionManager
}

// Ping reports whether the store is reachable.
func (b *StorageBundle) Ping(ctx context.Context) error {
	if b.DB == nil {
		return nil
	}
	return b.DB.PingContext(ctx)
}

// ProvideStorage opens the configured store and, for sqlite, applies the
// embedded migrations.
func ProvideStorage(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.Driver == DriverMemory {
		store := memory.NewStore()
		logger.Warn("Using in-memory storage; cases are lost on exit")
		return &StorageBundle{Cases: store, Audit: store, TxManager: store}, nil
	}

	db, err := database.New(ctx, database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if _, err := database.NewMigrator(db, logger).Run(ctx, database.Migrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	txDB := sqlite.NewDB(db.DB, logger)
	return &StorageBundle{
		DB:        db,
		Cases:     sqlite.NewCaseRepository(txDB, logger),
		Audit:     sqlite.NewAuditRepository(txDB, logger),
		TxManager: txDB,
	}, nil
}

// ProvideRegistry registers the built-in workflows plus any YAML definitions.
func ProvideRegistry(cfg *WorkflowConfig, logger *zap.Logger) (*domainwf.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("workflow config is required")
	}

	var extra []*domainwf.Definition
	if cfg.DefinitionsDir != "" {
		defs, err := workflow.LoadDefinitionsDir(cfg.DefinitionsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow definitions: %w", err)
		}
		extra = defs
	}

	registry, err := workflow.NewRegistry(extra...)
	if err != nil {
		return nil, err
	}

	logger.Info("Workflow registry ready",
		zap.Strings("types", registry.Types()),
		zap.Int("from_files", len(extra)))
	return registry, nil
}

// ProvideDispatcher creates the event dispatcher and subscribes a handler
// that records every case event in the log.
func ProvideDispatcher(cfg *EventsConfig, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("events config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	d := dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewSugaredKV(logger)),
		dispatcher.WithHandlerTimeout(cfg.HandlerTimeout),
	)
	d.SubscribeNamed(dispatcher.AnyType, "event_log", func(ctx context.Context, evt *event.Event) error {
		logger.Debug("Case event",
			zap.String("event_type", evt.Type.String()),
			zap.String("case_id", evt.CaseID),
			zap.String("workflow_type", evt.WorkflowType),
			zap.String("actor", evt.ActorID),
			zap.String("from", evt.GetPayloadString(event.KeyPreviousStatus)),
			zap.String("to", evt.GetPayloadString(event.KeyNewStatus)),
			zap.String("action", evt.GetPayloadString(event.KeyAction)),
			zap.String("assigned_to", evt.GetPayloadString(event.KeyAssignedTo)))
		return nil
	})
	return d, nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Registry   *domainwf.Registry
	Storage    *StorageBundle
	Dispatcher dispatcher.Dispatcher
	Strict     bool
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.WorkflowEngine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []workflow.EngineOption{
		workflow.WithLogger(deps.Logger),
		workflow.WithAuthorization(deps.Strict),
	}
	if deps.Dispatcher != nil {
		opts = append(opts, workflow.WithDispatcher(deps.Dispatcher))
	}

	return workflow.NewEngine(
		deps.Registry,
		deps.Storage.Cases,
		deps.Storage.Audit,
		deps.Storage.TxManager,
		opts...,
	), nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Engine    workflow.WorkflowEngine
	Registry  *domainwf.Registry
	Scheduler *SchedulerConfig
	Retry     workflow.RetryPolicy
	Logger    *zap.Logger
}

// WorkerBundle holds the worker manager and, when enabled, the scheduler
// it runs.
type WorkerBundle struct {
	Manager   *worker.Manager
	Scheduler *worker.Scheduler
}

// ProvideWorkers registers the background workers without starting them.
// Scheduled rules whose workflow type is not registered are dropped.
func ProvideWorkers(deps *WorkerDeps) (*WorkerBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Engine == nil || deps.Registry == nil {
		return nil, errors.New("engine and registry are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &WorkerBundle{Manager: worker.NewManager(deps.Logger)}

	if deps.Scheduler != nil && deps.Scheduler.Enabled {
		var rules []worker.ScheduledRule
		for _, r := range worker.DefaultRules() {
			if _, err := deps.Registry.Get(r.WorkflowType); err != nil {
				continue
			}
			rules = append(rules, r)
		}
		bundle.Scheduler = worker.NewScheduler(
			worker.SchedulerConfig{Spec: deps.Scheduler.Spec, Retry: deps.Retry},
			deps.Engine,
			rules,
			port.SystemClock,
			deps.Logger,
		)
		bundle.Manager.Register(bundle.Scheduler)
	}

	return bundle, nil
}
