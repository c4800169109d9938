package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/patchtrack/patchtrack/internal/ingester/fetch"
)

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one-shot ingestion tasks.",
	}
	cmd.AddCommand(fetchPatchesCmd(), fetchDiscussionsCmd())
	return cmd
}

func fetchPatchesCmd() *cobra.Command {
	config := &fetch.PatchFetchConfig{Source: "manual"}
	cmd := &cobra.Command{
		Use:   "patches",
		Short: "Fetch and upsert one or more pages of patches.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := loadApp(cmd)
			defer app.Close()

			result, err := app.PatchFetcher.Run(context.Background(), config)
			if err != nil {
				return err
			}
			fmt.Printf("pages=%d fetched=%d upserted=%d rejected=%d dispatched=%d\n",
				result.Pages, result.Fetched, result.Upserted, result.Rejected, result.Dispatched)
			return nil
		},
	}
	cmd.Flags().IntVar(&config.Page, "page", 1, "first page to fetch")
	cmd.Flags().IntVar(&config.PageSize, "page-size", 20, "records per page")
	cmd.Flags().BoolVar(&config.ProcessAllPages, "all", false, "continue until the last page")
	cmd.Flags().BoolVar(&config.FetchDiscussions, "discussions", false, "dispatch a discussion fetch per patch")
	return cmd
}

func fetchDiscussionsCmd() *cobra.Command {
	var patchId string
	var since string
	cmd := &cobra.Command{
		Use:   "discussions",
		Short: "Fetch and upsert the discussions of one patch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := loadApp(cmd)
			defer app.Close()

			var sinceTime *time.Time
			if since != "" {
				parsed, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return err
				}
				sinceTime = &parsed
			}
			inserted, err := app.DiscussionFetcher.Run(context.Background(), patchId, sinceTime)
			if err != nil {
				return err
			}
			fmt.Printf("inserted=%d\n", inserted)
			return nil
		},
	}
	cmd.Flags().StringVar(&patchId, "patch", "", "patch id to fetch discussions for")
	cmd.Flags().StringVar(&since, "since", "", "only fetch messages after this RFC3339 timestamp")
	_ = cmd.MarkFlagRequired("patch")
	return cmd
}
