// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Command eln runs the tenant-aware electronic lab notebook API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arclab/eln/elnweb"
)

var (
	rootCmd = &cobra.Command{
		Use:   "eln",
		Short: "Compliance-oriented electronic lab notebook backend",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the API server",
		RunE:  cmdRun,
	}

	runCfg struct {
		Address   string
		ConfigDir string
		Debug     bool
	}
)

func init() {
	runCmd.Flags().StringVar(&runCfg.Address, "address", ":8787", "server address to bind")
	runCmd.Flags().StringVar(&runCfg.ConfigDir, "config-dir", "/etc/eln", "directory with base.yaml and tenants/")
	runCmd.Flags().BoolVar(&runCfg.Debug, "debug", false, "verbose logging and storage call tracing")
	bindEnv(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

// bindEnv lets every flag be set through ELN_<FLAG> so containerized
// deployments need no argument list.
func bindEnv(flags *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix("ELN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	flags.VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed && v.IsSet(flag.Name) {
			_ = flag.Value.Set(v.GetString(flag.Name))
		}
	})
}

func cmdRun(cmd *cobra.Command, args []string) error {
	log, err := newLogger(runCfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := elnweb.NewServer(log, elnweb.Config{
		Address:   runCfg.Address,
		ConfigDir: runCfg.ConfigDir,
		Debug:     runCfg.Debug,
	})
	if err := server.Run(ctx); err != nil {
		log.Error("server exited", zap.Error(err))
		return err
	}
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
