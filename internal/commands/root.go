/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package commands implements the capgate command line.
package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kentakayama/capgate/internal/config"
	"github.com/kentakayama/capgate/internal/logutil"
)

// globalFlags are shared by every subcommand that reads the configuration.
type globalFlags struct {
	configPath string
	addr       string
	backend    string
	sqlitePath string
	logLevel   string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.configPath, "config", "c", "capgate.yaml", "Path to the YAML configuration file")
	fs.StringVar(&g.addr, "addr", "", "Listen address (overrides config and CAPGATE_ADDR)")
	fs.StringVar(&g.backend, "store", "", "Store backend: sqlite, postgres, redis or memory")
	fs.StringVar(&g.sqlitePath, "sqlite-path", "", "SQLite database file")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
}

// load reads the configuration and applies flags the user set explicitly.
func (g *globalFlags) load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed("addr") {
		cfg.Addr = g.addr
	}
	if fs.Changed("store") {
		cfg.Store.Backend = g.backend
	}
	if fs.Changed("sqlite-path") {
		cfg.Store.SQLite.Path = g.sqlitePath
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// logger builds the process logger and stores it on cfg.
func logger(cfg *config.Config) (zerolog.Logger, func(), error) {
	l, closer, err := logutil.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return zerolog.Logger{}, closer, fmt.Errorf("init logger: %w", err)
	}
	cfg.Logger = &l
	return l, closer, nil
}

// NewRootCmd assembles the command tree.
func NewRootCmd(version string) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "capgate",
		Short:         "Proof-of-work gateway: challenges, redemption tokens and an origin allow-list",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	flags.register(root.PersistentFlags())

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newMigrateCmd(flags))
	root.AddCommand(newSweepCmd(flags))
	root.AddCommand(newSelftestCmd())
	root.AddCommand(newVersionCmd(version))
	return root
}

// Execute runs the CLI application.
func Execute(version string) error {
	err := NewRootCmd(version).Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
