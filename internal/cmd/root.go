// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package cmd holds the cap-rbac command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the cap-rbac command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "cap-rbac",
		Short: "OIDC login demo server with role and permission gating",
		Long: `cap-rbac logs users in with an OpenID Connect provider, keeps their session in an
encrypted cookie and only lets users holding the required role (and optionally
permission) reach the moderator API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newDecodeCommand(), newVersionCommand())
	return root
}

// ExecuteContext runs the root command.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
