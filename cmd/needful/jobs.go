package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/needful-app/needful/internal/app"
	"github.com/needful-app/needful/internal/jobs"
)

var jobDescriptions = []struct{ name, desc string }{
	{jobs.NamePurgeStories, "delete expired stories and their media"},
	{jobs.NamePruneAnalytics, "drop analytics events past the retention window"},
	{jobs.NameWarmCache, "preload categories and featured providers"},
	{jobs.NameSweepCache, "evict expired entries from the in-memory cache"},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run maintenance jobs on demand",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job names",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, j := range jobDescriptions {
			cmd.Printf("%-16s %s\n", j.name, j.desc)
		}
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run one job once and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The listener is not needed for a one-shot run.
		cfg.Supabase.Realtime = false
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Scheduler().Run(ctx, args[0]); err != nil {
			return err
		}
		cmd.Printf("%s done\n", args[0])
		return nil
	},
}
