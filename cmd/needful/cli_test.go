package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestJobsList(t *testing.T) {
	out, err := execute(t, "jobs", "list", "--config", "testdata/missing.yaml")
	require.NoError(t, err)
	for _, name := range []string{"purge_stories", "prune_analytics", "warm_cache", "sweep_cache"} {
		assert.Contains(t, out, name)
	}
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	_, err := execute(t, "migrate", "down", "zero", "--config", "testdata/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, "migrate", "version", "--config", "testdata/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestServeValidatesConfig(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_KEY", "")
	_, err := execute(t, "serve", "--config", "testdata/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supabase.url is required")
}
