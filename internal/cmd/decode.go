// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/cap-rbac/authz"
	"github.com/hashicorp/cap-rbac/claims"
	"github.com/spf13/cobra"
)

type decodeOutput struct {
	Claims   claims.Claims   `json:"claims"`
	Decision *authz.Decision `json:"decision,omitempty"`
}

func newDecodeCommand() *cobra.Command {
	var namespace, role, permission string
	cmd := &cobra.Command{
		Use:   "decode TOKEN",
		Short: "Print the claims of a JWT without verifying it",
		Long: `Decode the payload of a JWT access token without checking its signature and print
its claims as JSON. With --role, also print whether the claims grant the role
(and the --permission, if given).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := claims.Decode(args[0])
			if err != nil {
				return err
			}
			out := decodeOutput{Claims: c}
			if role != "" {
				d := authz.Evaluate(c, role, authz.WithNamespace(namespace), authz.WithPermission(permission))
				out.Decision = &d
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("unable to marshal claims: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "prefix of the roles claim")
	cmd.Flags().StringVar(&role, "role", "", "role to check")
	cmd.Flags().StringVar(&permission, "permission", "", "permission to check along with --role")
	return cmd
}
