// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/hashicorp/cap-rbac/config"
	"github.com/hashicorp/cap-rbac/server"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var envFiles []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Long: `Load the configuration from the environment (and .env files), connect to the
identity provider and serve until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []config.Option
			if cmd.Flags().Changed("env-file") {
				opts = append(opts, config.WithEnvFiles(envFiles...))
			}
			cfg, err := config.Load(opts...)
			if err != nil {
				return err
			}
			logger := cfg.Logger("cap-rbac")
			logger.Debug("configuration loaded", "issuer", cfg.Issuer, "base_url", cfg.BaseURL, "roles_source", cfg.RolesSource)

			ctx := cmd.Context()
			s, err := server.New(ctx, cfg, server.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("unable to start: %w", err)
			}
			defer s.Done()
			return s.Run(ctx)
		},
	}
	cmd.Flags().StringSliceVar(&envFiles, "env-file", config.DefaultEnvFiles, "env files to load, earlier files win")
	return cmd
}
