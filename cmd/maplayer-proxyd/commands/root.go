// Package commands implements the maplayer-proxyd cobra command tree, a
// thin CLI shell over pkg/engine for manual and local testing of the
// streaming proxy outside of a host application.
package commands

import (
	"github.com/spf13/cobra"
)

// rootFlags are shared across every subcommand that needs to stand up an
// engine instance.
type rootFlags struct {
	cacheDir       string
	chunkSize      int64
	maxConcurrency int
	listenAddr     string
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "maplayer-proxyd",
		Short: "Local streaming proxy for remote media files",
	}

	flags := &rootFlags{}
	rootCmd.PersistentFlags().StringVar(&flags.cacheDir, "cache-dir", "./proxy-cache", "Directory for per-session chunk cache files")
	rootCmd.PersistentFlags().Int64Var(&flags.chunkSize, "chunk-size", 0, "Chunk size in bytes (0 = engine default)")
	rootCmd.PersistentFlags().IntVar(&flags.maxConcurrency, "max-concurrency", 0, "Max concurrent chunk downloads (0 = engine default)")
	rootCmd.PersistentFlags().StringVar(&flags.listenAddr, "listen", "127.0.0.1:0", "Loopback address the HTTP edge binds to")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newCreateSessionCmd(flags),
		newStatsCmd(flags),
		newCloseSessionCmd(flags),
	)
	return rootCmd
}
