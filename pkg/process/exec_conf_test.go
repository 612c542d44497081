// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
)

func TestExec_PropagatesSettings(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// Set up a command that does nothing.
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}
	cmd.SetArgs([]string{})

	// Define a config struct and some flags.
	var config struct {
		X int `default:"0"`
	}
	Bind(cmd, &config)
	y := cmd.Flags().Int("y", 0, "y flag (command)")
	z := flag.Int("z", 0, "z flag (stdlib)")

	// Set some environment variables for viper.
	t.Setenv("COLLECTIONS_X", "1")
	t.Setenv("COLLECTIONS_Y", "2")
	t.Setenv("COLLECTIONS_Z", "3")

	require.NoError(t, ExecWithContext(ctx, cmd))

	// Check that the variables are now bound.
	require.Equal(t, 1, config.X)
	require.Equal(t, 2, *y)
	require.Equal(t, 3, *z)
}

func TestExec_ReadsConfigFile(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("config")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte(
		"server.address: 127.0.0.1:9999\nacl.cache-expiration: 5m\n"), 0600))

	var config struct {
		Server struct {
			Address string `default:"127.0.0.1:10053"`
		}
		ACL struct {
			CacheExpiration time.Duration `default:"1m"`
			CacheCapacity   int           `default:"1000"`
		}
	}

	var confDir string
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}
	cmd.Flags().StringVar(&confDir, "config-dir", dir, "config directory")
	Bind(cmd, &config)
	cmd.SetArgs([]string{"--acl.cache-capacity=5"})

	require.NoError(t, ExecWithContext(ctx, cmd))

	require.Equal(t, "127.0.0.1:9999", config.Server.Address)
	require.Equal(t, 5*time.Minute, config.ACL.CacheExpiration)
	require.Equal(t, 5, config.ACL.CacheCapacity)
}

func TestExec_InvalidConfigValue(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var config struct {
		Capacity int `default:"1"`
	}
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}
	Bind(cmd, &config)
	cmd.SetArgs([]string{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	t.Setenv("COLLECTIONS_CAPACITY", "lots")
	require.Error(t, ExecWithContext(ctx, cmd))
}

func TestHidden(t *testing.T) {
	// Set up a command that does nothing.
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}

	// Define a config struct and some flags.
	var config struct {
		W int `default:"0" hidden:"false"`
		X int `default:"0" hidden:"true"`
		Y int `default:"1" setup:"true"`
		Z int `default:"1"`
	}
	Bind(cmd, &config)

	// Setup test config file
	ctx := testcontext.New(t)
	testConfigFile := ctx.File("testconfig.yaml")
	defer ctx.Cleanup()

	// Test that only the configs that are not hidden show up in config file
	err := SaveConfig(cmd, testConfigFile, map[string]interface{}{"w": 5})
	require.NoError(t, err)

	actualConfigFile, err := os.ReadFile(testConfigFile)
	require.NoError(t, err)

	require.Contains(t, string(actualConfigFile), "w: 5\n")
	require.Contains(t, string(actualConfigFile), "# z: 1")
	require.NotContains(t, string(actualConfigFile), "y: ")
	require.NotContains(t, string(actualConfigFile), "x: ")
}

func TestSaveConfigQuotesStrings(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	cmd := &cobra.Command{}
	var config struct {
		Database string `help:"database url" default:"bolt://data/collections.db"`
		Empty    string `default:""`
		Flag     string `default:"true"`
	}
	Bind(cmd, &config)

	file := ctx.File("config.yaml")
	require.NoError(t, SaveConfig(cmd, file, nil))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(data), "# database url\n# database: ")
	require.Contains(t, string(data), "bolt://data/collections.db")
	require.Contains(t, string(data), `# empty: ""`)
	require.Contains(t, string(data), `# flag: "true"`)
}

func TestDebugHandler(t *testing.T) {
	registry := monkit.NewRegistry()
	registry.ScopeNamed("test").Counter("requests").Inc(1)

	handler := DebugHandler(registry)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, "OK\n", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), "# TYPE requests gauge")
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "_1abc_def", sanitize("1abc.def"))
	require.Equal(t, "", sanitize(""))
}
