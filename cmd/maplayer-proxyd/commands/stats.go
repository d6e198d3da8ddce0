package commands

import (
	"time"

	"github.com/MainListActivity/MaPlayer/pkg/engine"
	"github.com/spf13/cobra"
)

func newStatsCmd(flags *rootFlags) *cobra.Command {
	var (
		sessionID string
		interval  time.Duration
	)

	c := &cobra.Command{
		Use:   "stats",
		Short: "Create a throwaway engine bound to --cache-dir and print a stats snapshot every --interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := engine.InitEngine(engineConfig(flags))
			defer engine.Dispose()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			snap, err := eng.GetStats(sessionID)
			if err != nil {
				return err
			}
			printSnapshot(cmd, snap)

			ctx, stop := interruptContext(cmd)
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					snap, err := eng.GetStats(sessionID)
					if err != nil {
						return err
					}
					printSnapshot(cmd, snap)
				}
			}
		},
	}
	c.Flags().StringVar(&sessionID, "session-id", "", "Session id to report on (empty = aggregate across all sessions)")
	c.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval")
	return c
}
