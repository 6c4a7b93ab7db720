package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"placementmail/internal/repository"
	"placementmail/internal/service"
	"placementmail/internal/worker"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair campaign statuses from their jobs once",
	Long: `Run a single sweeper pass: cancel abandoned jobs of cancelled campaigns
and recompute the status of every queued or sending campaign. Workers run the
same pass periodically; this is for use when no worker is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		logger := newLogger(cfg)
		defer logger.Sync()

		campaigns := repository.NewCampaignRepository(db)
		jobs := repository.NewJobRepository(db)
		tracker := service.NewCampaignTracker(campaigns, jobs, logger)

		result := worker.NewSweeper(jobs, campaigns, tracker, time.Minute, nil, logger).RunOnce(cmd.Context())

		printInfo(fmt.Sprintf("Campaigns checked: %d", result.Refreshed))
		printInfo(fmt.Sprintf("Abandoned jobs cancelled: %d", result.Abandoned))

		ids := make([]int, 0, len(result.Finished))
		for id := range result.Finished {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			printSuccess(fmt.Sprintf("✓ Campaign %d is now %s", id, result.Finished[id]))
		}
		return nil
	},
}
