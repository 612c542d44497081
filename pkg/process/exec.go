// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
)

// EnvPrefix is the prefix of environment variables that override flags.
const EnvPrefix = "COLLECTIONS"

// ConfigFile is the name of the configuration file inside the config directory.
const ConfigFile = "config.yaml"

// Bind sets flags on a command that match the configuration struct.
func Bind(cmd *cobra.Command, config interface{}, opts ...cfgstruct.BindOpt) {
	cfgstruct.Bind(cmd.Flags(), config, opts...)
}

// Exec runs a Cobra command. If a "config-dir" flag is defined it will be parsed
// and loaded using viper.
func Exec(cmd *cobra.Command) {
	ctx, cancel := Ctx()
	defer cancel()

	if err := ExecWithContext(ctx, cmd); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

// ExecWithContext is like Exec but uses the provided context.
func ExecWithContext(ctx context.Context, cmd *cobra.Command) error {
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	cleanup(cmd)
	return cmd.ExecuteContext(ctx)
}

// Ctx returns a context that is canceled on SIGINT or SIGTERM.
func Ctx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Viper returns a viper instance for the command, reading the configuration
// file from the "config-dir" flag when the command has one.
func Viper(cmd *cobra.Command) (*viper.Viper, error) {
	vip := viper.New()
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	if f := cmd.Flags().Lookup("config-dir"); f != nil && f.Value.String() != "" {
		vip.SetConfigFile(filepath.Join(os.ExpandEnv(f.Value.String()), ConfigFile))
		if err := vip.ReadInConfig(); err != nil && !isMissingConfig(err) {
			return nil, Error.Wrap(err)
		}
	}
	return vip, nil
}

func isMissingConfig(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func cleanup(cmd *cobra.Command) {
	for _, sub := range cmd.Commands() {
		cleanup(sub)
	}

	if cmd.Run != nil {
		panic("use RunE instead of Run for " + cmd.Name())
	}
	internalRun := cmd.RunE
	if internalRun == nil {
		return
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		vip, err := Viper(cmd)
		if err != nil {
			return err
		}

		var setErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed || !vip.IsSet(f.Name) {
				return
			}
			if err := cmd.Flags().Set(f.Name, vip.GetString(f.Name)); err != nil && setErr == nil {
				setErr = Error.New("invalid value for %q: %v", f.Name, err)
			}
		})
		if setErr != nil {
			return setErr
		}

		logger, err := NewLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		defer zap.ReplaceGlobals(logger)()

		if err := initDebug(cmd.Context(), logger.Named("debug"), monkit.Default); err != nil {
			logger.Error("failed to start debug endpoints", zap.Error(err))
		}

		err = internalRun(cmd, args)
		if err != nil {
			logger.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		}
		return err
	}
}
