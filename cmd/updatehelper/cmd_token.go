/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/plugin_update_helper/internal/auth"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate the bcrypt hash for PUH_ADMIN_TOKEN_HASH",
	Long: `Hash an admin bearer token for PUH_ADMIN_TOKEN_HASH.

Without an argument a random token is generated and printed alongside its hash.
`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashToken,
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}

func runHashToken(cmd *cobra.Command, args []string) error {
	token := ""
	if len(args) == 1 {
		token = args[0]
	} else {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		token = hex.EncodeToString(raw)
		fmt.Printf("token: %s\n", token)
	}

	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Printf("PUH_ADMIN_TOKEN_HASH=%s\n", hash)
	return nil
}
