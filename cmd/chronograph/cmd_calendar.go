/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/chronograph/internal/cache"
	"github.com/friendsincode/chronograph/internal/calendar"
	"github.com/friendsincode/chronograph/internal/db"
	"github.com/friendsincode/chronograph/internal/events"
	"github.com/friendsincode/chronograph/internal/models"
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Manage the holiday calendar",
}

var calendarListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored holidays",
	Args:  cobra.NoArgs,
	RunE: withCalendar(func(ctx context.Context, store *calendar.Store, args []string) error {
		dates, err := store.ListHolidays(ctx)
		if err != nil {
			return err
		}
		for _, d := range dates {
			fmt.Println(d)
		}
		return nil
	}),
}

var calendarAddCmd = &cobra.Command{
	Use:   "add YYYY-MM-DD...",
	Short: "Mark dates as holidays",
	Args:  cobra.MinimumNArgs(1),
	RunE: withCalendar(func(ctx context.Context, store *calendar.Store, args []string) error {
		for _, date := range args {
			if err := store.SetHoliday(ctx, date); err != nil {
				return err
			}
		}
		return store.FlushCache(ctx)
	}),
}

var calendarRemoveCmd = &cobra.Command{
	Use:   "remove YYYY-MM-DD...",
	Short: "Unmark holiday dates",
	Args:  cobra.MinimumNArgs(1),
	RunE: withCalendar(func(ctx context.Context, store *calendar.Store, args []string) error {
		for _, date := range args {
			if err := store.DeleteHoliday(ctx, date); err != nil {
				return err
			}
		}
		return store.FlushCache(ctx)
	}),
}

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "Show or change per-day stream capacities",
}

var streamsGetCmd = &cobra.Command{
	Use:   "get [key...]",
	Short: "Print stream capacities (all keys by default)",
	RunE: withCalendar(func(ctx context.Context, store *calendar.Store, args []string) error {
		keys := args
		if len(keys) == 0 {
			keys = models.StreamKeys
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, key := range keys {
			v, err := store.Capacity(ctx, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\n", key, v)
		}
		return w.Flush()
	}),
}

var streamsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a stream capacity",
	Args:  cobra.ExactArgs(2),
	RunE: withCalendar(func(ctx context.Context, store *calendar.Store, args []string) error {
		value, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("capacity must be a whole number: %w", err)
		}
		ok, err := store.SetCapacity(ctx, args[0], value)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("refused capacity %d for %q", value, args[0])
		}
		return store.FlushCache(ctx)
	}),
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the shared Redis cache",
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop cached holidays and stream capacities",
	Long:  "Drop cached holidays and stream capacities so every instance re-reads them. Needed after editing the tables directly.",
	Args:  cobra.NoArgs,
	RunE: withCalendar(func(ctx context.Context, store *calendar.Store, args []string) error {
		if cfg.RedisAddr == "" {
			logger.Info().Msg("no redis configured, nothing to flush")
			return nil
		}
		return store.FlushCache(ctx)
	}),
}

func init() {
	calendarCmd.AddCommand(calendarListCmd, calendarAddCmd, calendarRemoveCmd)
	streamsCmd.AddCommand(streamsGetCmd, streamsSetCmd)
	cacheCmd.AddCommand(cacheFlushCmd)
	rootCmd.AddCommand(calendarCmd, streamsCmd, cacheCmd)
}

// withCalendar opens the calendar store against the configured database and cache.
func withCalendar(fn func(ctx context.Context, store *calendar.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		database, err := initDatabase()
		if err != nil {
			return err
		}
		defer db.Close(database)

		c := cache.Disabled(logger)
		if cfg.RedisAddr != "" {
			cacheCfg := cache.DefaultConfig()
			cacheCfg.RedisAddr = cfg.RedisAddr
			cacheCfg.RedisPassword = cfg.RedisPassword
			cacheCfg.RedisDB = cfg.RedisDB
			if c, err = cache.New(cacheCfg, logger); err != nil {
				return err
			}
		}
		defer c.Close()

		store, err := calendar.NewStore(database, c, events.NewBus(), cfg.Location(), cfg.RecurringHolidays, logger)
		if err != nil {
			return err
		}
		return fn(cmd.Context(), store, args)
	}
}
