/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/chronograph/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
	tokenScopes  []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the admin endpoints",
	Long: `Issue a signed bearer token for POST /streams and the calendar write endpoints.

Requires CHRONOGRAPH_JWT_SIGNING_KEY. Without a signing key those endpoints are open.

Examples:
  chronograph token --subject ops --ttl 24h
`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Token lifetime")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeAdmin}, "Scopes to grant")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.JWTSigningKey == "" {
		return errors.New("CHRONOGRAPH_JWT_SIGNING_KEY is not set")
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), tokenSubject, tokenScopes, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
