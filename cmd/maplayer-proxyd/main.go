package main

import (
	"fmt"
	"os"

	"github.com/MainListActivity/MaPlayer/cmd/maplayer-proxyd/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
