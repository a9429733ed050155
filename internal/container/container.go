package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/portal-idjuv/casework/internal/application/dispatcher"
	"github.com/portal-idjuv/casework/internal/application/workflow"
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
)

// Container manages all application dependencies and lifecycle.
type Container struct {
	config *Config
	logger *zap.Logger

	storage    *StorageBundle
	registry   *domainwf.Registry
	dispatcher dispatcher.Dispatcher
	engine     workflow.WorkflowEngine
	workers    *WorkerBundle

	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg. Components are built by Start.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes components in dependency order: storage, registry,
// dispatcher and engine, then workers. A failure releases whatever was
// already opened.
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	defer func() {
		if err != nil {
			_ = c.teardown()
		}
	}()

	c.logger.Info("Starting container initialization")

	if c.storage, err = ProvideStorage(ctx, &c.config.Database, c.logger); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if c.registry, err = ProvideRegistry(&c.config.Workflow, c.logger); err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	if c.dispatcher, err = ProvideDispatcher(&c.config.Events, c.logger); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	c.engine, err = ProvideWorkflowEngine(&WorkflowDeps{
		Registry:   c.registry,
		Storage:    c.storage,
		Dispatcher: c.dispatcher,
		Strict:     c.config.Workflow.StrictAuthorization,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}

	c.workers, err = ProvideWorkers(&WorkerDeps{
		Engine:    c.engine,
		Registry:  c.registry,
		Scheduler: &c.config.Scheduler,
		Retry:     c.config.Retry,
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	if err = c.workers.Manager.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// teardown stops workers, drains the dispatcher and closes the database.
func (c *Container) teardown() error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.Manager.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil && !errors.Is(err, dispatcher.ErrClosed) {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.storage != nil && c.storage.DB != nil {
		if err := c.storage.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	c.storage = nil

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Engine returns the workflow engine; nil before Start.
func (c *Container) Engine() workflow.WorkflowEngine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine
}

// Registry returns the workflow registry; nil before Start.
func (c *Container) Registry() *domainwf.Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry
}

// pingStorage reports whether the store answers.
func (c *Container) pingStorage(ctx context.Context) error {
	c.mu.RLock()
	storage := c.storage
	c.mu.RUnlock()

	if storage == nil {
		return fmt.Errorf("storage not initialized")
	}
	return storage.Ping(ctx)
}

// Health returns health status of all components. Components that keep
// running state (workers, the scheduler) also report it when healthy.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	if !c.Ready() {
		set("container", fmt.Errorf("not ready"))
	}
	set("storage", c.pingStorage(ctx))

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.engine == nil {
		set("engine", fmt.Errorf("not initialized"))
	} else {
		set("engine", nil)
	}

	if c.workers == nil {
		set("workers", fmt.Errorf("not initialized"))
		return status
	}

	running := c.workers.Manager.IsRunning()
	status.Components["workers"] = ComponentHealth{
		Healthy: running,
		Message: fmt.Sprintf("worker count: %d", c.workers.Manager.Count()),
	}
	if !running {
		status.Overall = false
	}

	if s := c.workers.Scheduler; s != nil {
		res, at := s.LastRun()
		msg := "no pass yet"
		if !at.IsZero() {
			msg = fmt.Sprintf("last pass %s: examined=%d transitioned=%d skipped=%d failed=%d",
				at.UTC().Format(time.RFC3339), res.Examined, res.Transitioned, res.Skipped, res.Failed)
		}
		status.Components["scheduler"] = ComponentHealth{Healthy: running, Message: msg}
	}

	return status
}
