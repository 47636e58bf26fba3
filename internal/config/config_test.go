package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("tenant-id", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("data-dir", "", "")
	cmd.Flags().String("backend", "", "")
	cmd.Flags().String("server-url", "", "")
	cmd.Flags().String("external", "", "")
	return cmd
}

func TestLoad_Defaults(t *testing.T) {
	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	require.Equal(t, "default", cfg.TenantID)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, 10, cfg.Sync.PageSize)
	require.Equal(t, 3, cfg.Sync.RetryLimit)
	require.Equal(t, 2, cfg.Sync.DuplicateThreshold)
}

func TestLoad_RemoteBackendRequiresDSN(t *testing.T) {
	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("backend", "remote"))

	_, err := Load(cmd)
	require.Error(t, err)
}

func TestLoad_UnknownBackend(t *testing.T) {
	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("backend", "nonsense"))

	_, err := Load(cmd)
	require.Error(t, err)
}

func TestLoad_MissingTenantID(t *testing.T) {
	cmd := newTestCmd()
	require.NoError(t, cmd.Flags().Set("tenant-id", ""))
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))

	cfg, err := Load(cmd)
	require.ErrorContains(t, err, "tenant_id is required")
	require.Nil(t, cfg)
}
