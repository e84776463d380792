/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kentakayama/capgate/internal/infra/store"
	"github.com/kentakayama/capgate/internal/pow"
	"github.com/kentakayama/capgate/internal/server"
	"github.com/kentakayama/capgate/internal/sweep"
)

func newSweepCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired challenges and tokens once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd.Flags())
			if err != nil {
				return err
			}
			log, closeLog, err := logger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			b, err := store.Open(cmd.Context(), cfg.Store, nil, log)
			if err != nil {
				return err
			}
			defer b.Close()

			svc, err := pow.New(b.Challenges, b.Tokens, server.PowOptions(cfg.Pow), pow.WithLogger(log))
			if err != nil {
				return err
			}
			challenges, tokens, err := sweep.Once(cmd.Context(), svc, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d challenges and %d tokens\n", challenges, tokens)
			return nil
		},
	}
}
