package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/portal-idjuv/casework/internal/container"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDefinitionsCommand(t *testing.T) {
	t.Setenv("CASEWORK_LOGGER_OUTPUT_PATH", filepath.Join(t.TempDir(), "cli.log"))

	out, err := run(t, "definitions")
	require.NoError(t, err)
	assert.Contains(t, out, "gestor")
	assert.Contains(t, out, "licenca")

	out, err = run(t, "definitions", "gestor")
	require.NoError(t, err)
	assert.Contains(t, out, "marcar_contato_realizado")
	assert.Contains(t, out, "assignee")

	_, err = run(t, "definitions", "nope")
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CASEWORK_LOGGER_OUTPUT_PATH", filepath.Join(dir, "cli.log"))
	t.Setenv("CASEWORK_DB", filepath.Join(dir, "casework.db"))

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 2 migration(s)")

	out, err = run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 0 migration(s)")

	t.Setenv("CASEWORK_DATABASE_DRIVER", "memory")
	_, err = run(t, "migrate")
	assert.Error(t, err)
}

func TestHealthReport(t *testing.T) {
	cfg := container.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "casework.db")

	app, err := container.NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))

	report := healthReport(app)(context.Background())
	assert.True(t, report["storage"].Healthy)
	assert.Equal(t, "no pass yet", report["scheduler"].Message)

	require.NoError(t, app.Close())
	report = healthReport(app)(context.Background())
	assert.False(t, report["container"].Healthy)
}
