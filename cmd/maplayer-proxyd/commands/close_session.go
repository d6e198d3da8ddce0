package commands

import (
	"github.com/MainListActivity/MaPlayer/pkg/engine"
	"github.com/spf13/cobra"
)

func newCloseSessionCmd(flags *rootFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "close-session SESSION_ID",
		Short: "Close a session by id, deleting its cache file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := engine.InitEngine(engineConfig(flags))
			defer engine.Dispose()

			if err := eng.CloseSession(args[0]); err != nil {
				return err
			}
			cmd.Printf("closed session %s\n", args[0])
			return nil
		},
	}
	return c
}
