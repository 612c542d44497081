// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/collections/pkg/process"
	"storj.io/collections/server"
	"storj.io/common/cfgstruct"
)

var (
	rootCmd = &cobra.Command{
		Use:   "collections",
		Short: "Collections key value server",
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the collections server",
		RunE:  cmdRun,
	}
	confDir string

	runCfg   server.Config
	setupCfg server.Config
)

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	configFile := filepath.Join(setupDir, process.ConfigFile)
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("collections configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	return process.SaveConfig(runCmd, configFile, map[string]interface{}{
		"database":       setupCfg.Database,
		"server.address": setupCfg.Server.Address,
	})
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	log := zap.L()

	peer, err := server.New(ctx, log, runCfg)
	if err != nil {
		return errs.New("failed to create collections server: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, peer.Close())
	}()

	log.Info("collections server started", zap.String("address", peer.Addr()))
	return peer.Run(ctx)
}

func defaultConfDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".collections"
	}
	return filepath.Join(home, ".collections")
}

func init() {
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir(), "main directory for collections configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func main() {
	process.Exec(rootCmd)
}
