/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kentakayama/capgate/internal/client"
)

func newSelftestCmd() *cobra.Command {
	var (
		url      string
		origin   string
		insecure bool
		wait     time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Solve a challenge against a running gateway and validate the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			log := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
				With().Timestamp().Logger()
			c, err := client.New(client.Config{
				BaseURL:     url,
				Origin:      origin,
				InsecureTLS: insecure,
				Logger:      log,
			})
			if err != nil {
				return err
			}
			if err := c.Check(ctx, wait); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8787", "Base URL of the gateway")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin header to send, for gateways with ALLOWED set")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep retrying the first request this long while the gateway starts")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall deadline")
	return cmd
}
