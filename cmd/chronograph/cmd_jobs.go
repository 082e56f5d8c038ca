/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/chronograph/internal/db"
	"github.com/friendsincode/chronograph/internal/events"
	"github.com/friendsincode/chronograph/internal/scheduler"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect persisted timers",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending jobs ordered by run time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		database, err := initDatabase()
		if err != nil {
			return err
		}
		defer db.Close(database)

		jobs, err := scheduler.New(database, nil, events.NewBus(), scheduler.Options{}, logger).ListJobs(cmd.Context())
		if err != nil {
			return err
		}

		loc := cfg.Location()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRUN AT\tDUE\tURL")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.ID, j.RunAt.In(loc).Format(time.RFC3339), j.Due.In(loc).Format(time.RFC3339), j.URL)
		}
		return w.Flush()
	},
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "remove ID...",
	Short: "Delete pending jobs",
	Long:  "Delete pending jobs. A running server drops its timer for the job when it next fires and finds the row gone.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		database, err := initDatabase()
		if err != nil {
			return err
		}
		defer db.Close(database)

		svc := scheduler.New(database, nil, events.NewBus(), scheduler.Options{}, logger)
		for _, id := range args {
			if err := svc.RemoveJob(cmd.Context(), id); err != nil {
				return err
			}
			logger.Info().Str("job_id", id).Msg("job removed")
		}
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsRemoveCmd)
	rootCmd.AddCommand(jobsCmd)
}
