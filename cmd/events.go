/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"

	"github.com/nodesocial/apiserver/config"
	"github.com/nodesocial/apiserver/internal/events"
	"github.com/nodesocial/apiserver/internal/server"
	"github.com/nodesocial/apiserver/types"
	"github.com/spf13/cobra"
)

// eventsCmd groups the activity event tools.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the activity event channel",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Log activity events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.LoadConfig()
		log := newLogger(cfg)

		if cfg.MQBackend == config.MQBackendNone {
			return errors.New("MQ_BACKEND is none, there is no event channel to tail")
		}

		backends, err := server.OpenBackends(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer backends.Close()

		log.Info(ctx, "tailing events", "channel", cfg.Events.Channel)
		err = events.Subscribe(ctx, backends.Queue, cfg.Events.Channel, log, func(ctx context.Context, event types.Event) error {
			log.Info(ctx, "event",
				"type", event.Type,
				"actor", event.ActorID,
				"target", event.TargetID,
				"post", event.PostID,
				"occurred_at", event.OccurredAt,
			)
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
