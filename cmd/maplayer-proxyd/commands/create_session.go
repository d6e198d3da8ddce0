package commands

import (
	"os/signal"
	"syscall"

	"github.com/MainListActivity/MaPlayer/pkg/engine"
	"github.com/spf13/cobra"
)

func newCreateSessionCmd(flags *rootFlags) *cobra.Command {
	var (
		url     string
		headers []string
		fileKey string
	)

	c := &cobra.Command{
		Use:   "create-session",
		Short: "Start the engine, create one session, print its playback URL, and keep serving it",
		Args: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return errRequiredFlag("--url")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := engine.InitEngine(engineConfig(flags))
			defer engine.Dispose()

			addr, err := startEdge(eng, flags.listenAddr)
			if err != nil {
				return err
			}

			info, err := eng.CreateSession(cmd.Context(), url, parseHeaders(headers), fileKey)
			if err != nil {
				return err
			}
			cmd.Printf("listening on %s\n", addr)
			cmd.Printf("session_id=%s playback_url=%s content_length=%d content_type=%s\n",
				info.SessionID, info.PlaybackURL, info.ContentLength, info.ContentType)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			waitForInterrupt(ctx)
			return nil
		},
	}
	c.Flags().StringVar(&url, "url", "", "Origin URL to create a session for (required)")
	c.Flags().StringArrayVar(&headers, "header", nil, `Request header to send to origin ("Key: Value"), repeatable`)
	c.Flags().StringVar(&fileKey, "file-key", "", "Stable key identifying the file across URL changes")
	return c
}
