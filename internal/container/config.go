// Package container wires the workflow engine, its storage and background
// workers, starting them in dependency order and closing them in reverse.
package container

import (
	"errors"
	"fmt"
	"time"

	"github.com/portal-idjuv/casework/internal/application/workflow"
)

// Storage drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds all configuration for the Container.
type Config struct {
	Database  DatabaseConfig
	Workflow  WorkflowConfig
	Retry     workflow.RetryPolicy
	Scheduler SchedulerConfig
	Events    EventsConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory"; memory loses everything on exit
	Driver string

	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// WorkflowConfig holds engine settings.
type WorkflowConfig struct {
	// DefinitionsDir holds extra YAML workflow definitions
	DefinitionsDir string

	// StrictAuthorization enforces role and assignee restrictions
	StrictAuthorization bool
}

// SchedulerConfig holds scheduled transition settings.
type SchedulerConfig struct {
	Enabled bool

	// Spec is a cron expression or descriptor ("@every 1h")
	Spec string
}

// EventsConfig holds dispatcher settings.
type EventsConfig struct {
	// HandlerTimeout bounds each asynchronous event handler; zero disables it
	HandlerTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			Path:            "data/casework.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Workflow: WorkflowConfig{
			StrictAuthorization: true,
		},
		Retry: workflow.DefaultRetryPolicy(),
		Scheduler: SchedulerConfig{
			Enabled: true,
			Spec:    "@every 1h",
		},
		Events: EventsConfig{
			HandlerTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}

	if c.Events.HandlerTimeout < 0 {
		return errors.New("events.handler_timeout must not be negative")
	}

	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return errors.New("scheduler.spec is required when the scheduler is enabled")
	}

	return nil
}
