package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/patchtrack/patchtrack/internal/ingester"
	"github.com/patchtrack/patchtrack/internal/ingester/fetch"
)

func deadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay dead-lettered task payloads.",
	}
	cmd.AddCommand(deadLetterListCmd(), deadLetterReplayCmd())
	return cmd
}

func deadLetterListCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered payloads, oldest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := loadApp(cmd)
			defer app.Close()

			entries, err := app.Router.List(limit)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Printf("%s  %-18s %-10s %s  %s\n",
					entry.RoutedAt.Format("2006-01-02T15:04:05Z"),
					entry.Task,
					entry.ErrorClass,
					entry.Payload,
					entry.Error,
				)
			}
			fmt.Printf("%d entries\n", len(entries))
			return nil
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 100, "maximum entries to list")
	return cmd
}

func deadLetterReplayCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay dead-lettered payloads with their original parameters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := loadApp(cmd)
			defer app.Close()

			ctx := context.Background()
			replayed := 0
			for replayed < count {
				entry, err := app.Router.Take()
				if err != nil {
					return err
				}
				if entry == nil {
					break
				}
				if err := replayEntry(ctx, app, entry.Task, entry.Payload); err != nil {
					log.WithError(err).Errorf("Replay of entry %s failed", entry.Id)
					return err
				}
				replayed++
			}
			fmt.Printf("replayed %d entries\n", replayed)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "maximum entries to replay")
	return cmd
}

func replayEntry(ctx context.Context, app *ingester.App, taskName string, payload json.RawMessage) error {
	switch taskName {
	case "patch-fetch":
		config := &fetch.PatchFetchConfig{}
		if err := json.Unmarshal(payload, config); err != nil {
			return errors.Wrap(err, "corrupt patch-fetch payload")
		}
		_, err := app.PatchFetcher.Run(ctx, config)
		return err
	case "reconciliation":
		config := &fetch.ReconcileConfig{}
		if err := json.Unmarshal(payload, config); err != nil {
			return errors.Wrap(err, "corrupt reconciliation payload")
		}
		_, err := app.Reconciler.Run(ctx, config)
		return err
	case "discussion-fetch":
		req := &discussionPayload{}
		if err := json.Unmarshal(payload, req); err != nil {
			return errors.Wrap(err, "corrupt discussion-fetch payload")
		}
		_, err := app.DiscussionFetcher.Run(ctx, req.PatchId, req.Since)
		return err
	default:
		return errors.Errorf("unknown task %q", taskName)
	}
}

type discussionPayload struct {
	PatchId string     `json:"patchId"`
	Since   *time.Time `json:"since,omitempty"`
}
