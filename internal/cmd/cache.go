package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/betterme/betterme/internal/cache"
	"github.com/betterme/betterme/internal/feed"
	"github.com/betterme/betterme/internal/output"
)

var cacheYes bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the local cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cached lists and their age",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			var infos []*cache.Info
			rows := make([][]string, 0, len(feed.Keys))
			for _, key := range feed.Keys {
				info, ok := r.app.Cache.Inspect(r.ctx, key)
				if !ok {
					rows = append(rows, []string{key, "-", "-", "empty"})
					continue
				}
				infos = append(infos, info)
				state := "cached"
				if info.Timestamp.IsZero() {
					state = "invalidated"
				}
				rows = append(rows, []string{
					key,
					strconv.Itoa(info.Items),
					output.Ago(info.Timestamp, r.app.Cache.Now()),
					state,
				})
			}
			return r.out.Table(infos, []string{"KEY", "ITEMS", "UPDATED", "STATE"}, rows)
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [key]",
	Short: "Clear one cached list, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			keys := feed.Keys
			if len(args) == 1 {
				keys = []string{args[0]}
			} else if !cacheYes {
				ok, err := promptConfirm("Clear every cached list?")
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			for _, key := range keys {
				r.app.Cache.Clear(r.ctx, key)
			}
			r.out.Success("Cleared %d cached list(s)", len(keys))
			return nil
		})
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <key>",
	Short: "Mark a cached list stale so the next read refetches it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(r *runner) error {
			if err := r.app.Feed.Invalidate(r.ctx, args[0]); err != nil {
				return err
			}
			r.out.Success("Invalidated %s", args[0])
			return nil
		})
	},
}

func init() {
	cacheClearCmd.Flags().BoolVarP(&cacheYes, "yes", "y", false, "Do not ask for confirmation")

	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}
