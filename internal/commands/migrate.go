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
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured SQL store",
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

			// Opening a SQL backend migrates it.
			b, err := store.Open(cmd.Context(), cfg.Store, nil, log)
			if err != nil {
				return err
			}
			defer b.Close()

			current, latest, err := b.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d (latest %d)\n", b.Name, current, latest)
			return nil
		},
	}
}
