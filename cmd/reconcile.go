/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/nodesocial/apiserver/config"
	"github.com/nodesocial/apiserver/internal/server"
	"github.com/nodesocial/apiserver/internal/services"
	"github.com/spf13/cobra"
)

// reconcileCmd repairs follow edges left half-written by a failed rollback.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair one-sided follow relationships",
	Long: `Scans every user and makes both sides of each follow edge agree.
An edge whose users both exist is completed; an edge naming a deleted user
is dropped. Usage:

	social reconcile
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.LoadConfig()
		log := newLogger(cfg)

		backends, err := server.OpenBackends(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer backends.Close()

		relationships := services.NewRelationshipService(
			backends.Users,
			backends.Locks,
			backends.Events,
			log.With("component", "reconcile"),
			server.Settings(cfg),
		)
		report, err := relationships.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}

		log.Info(ctx, "reconcile finished",
			"users", report.Users,
			"completed", report.Completed,
			"dropped", report.Dropped,
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
