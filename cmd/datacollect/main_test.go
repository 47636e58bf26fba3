package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/datacollect/core/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func newTestRootCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("tenant-id", "", "")
	cmd.Flags().String("log-level", "info", "")
	cmd.Flags().String("data-dir", "", "")
	cmd.Flags().String("backend", "", "")
	cmd.Flags().String("server-url", "", "")
	cmd.Flags().String("external", "", "")
	return cmd
}

func TestBuildEngine_LocalBackendOpensStoresAndApplier(t *testing.T) {
	root := newTestRootCmd()
	require.NoError(t, root.Flags().Set("data-dir", t.TempDir()))

	e, err := buildEngine(context.Background(), root)
	require.NoError(t, err)
	defer e.close()

	require.NotNil(t, e.events)
	require.NotNil(t, e.entities)
	require.NotNil(t, e.applier)
}

func TestBuildEngine_RemoteBackendWithoutDSNFails(t *testing.T) {
	root := newTestRootCmd()
	require.NoError(t, root.Flags().Set("backend", "remote"))

	_, err := buildEngine(context.Background(), root)
	require.Error(t, err)
}

func TestReadJSONFile_ParsesIntoMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"baseUrl":"http://example.test"}`), 0o644))

	var out map[string]string
	require.NoError(t, readJSONFile(path, &out))
	require.Equal(t, "http://example.test", out["baseUrl"])
}

func TestReadJSONFile_MissingFileFails(t *testing.T) {
	var out map[string]string
	err := readJSONFile(filepath.Join(t.TempDir(), "missing.json"), &out)
	require.Error(t, err)
}

func TestNewAuthManager_OpensStorageAndBuildsManager(t *testing.T) {
	root := newTestRootCmd()
	require.NoError(t, root.Flags().Set("data-dir", t.TempDir()))

	cfg, err := config.Load(root)
	require.NoError(t, err)
	cfg.Auth.JWTSecret = "shared-secret"
	cfg.Auth.Providers = nil

	manager, closeFn, err := newAuthManager(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()
	require.NotNil(t, manager)

	_, err = manager.CurrentToken(context.Background())
	require.Error(t, err)
}
