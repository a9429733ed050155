package config

import (
	"github.com/portal-idjuv/casework/internal/application/workflow"
	"github.com/portal-idjuv/casework/internal/container"
	apihttp "github.com/portal-idjuv/casework/internal/interfaces/http"
	"github.com/portal-idjuv/casework/pkg/utils"
)

// ToContainerConfig converts the file-based configuration into the
// container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Workflow: container.WorkflowConfig{
			DefinitionsDir:      c.Workflow.DefinitionsDir,
			StrictAuthorization: c.Workflow.StrictAuthorization,
		},
		Retry: workflow.RetryPolicy{
			MaxAttempts:     c.Retry.MaxAttempts,
			InitialInterval: c.Retry.InitialInterval,
			MaxInterval:     c.Retry.MaxInterval,
		},
		Scheduler: container.SchedulerConfig{
			Enabled: c.Scheduler.Enabled,
			Spec:    c.Scheduler.Spec,
		},
		Events: container.EventsConfig{
			HandlerTimeout: c.Events.HandlerTimeout,
		},
	}
}

// ToServerConfig returns the HTTP listener settings.
func (c *Config) ToServerConfig() apihttp.ServerConfig {
	return apihttp.ServerConfig{
		Host:         c.Server.Host,
		Port:         c.Server.Port,
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
	}
}

// ToLoggerConfig returns the logger settings.
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
