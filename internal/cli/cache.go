package cli

import (
	"fmt"

	"github.com/rcliao/dm21cm/internal/speccache"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the generator spectrum cache",
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached spectrum",
		Run:   runCachePurge,
	}

	cmd.AddCommand(purge)
	RootCmd.AddCommand(cmd)
}

func runCachePurge(cmd *cobra.Command, args []string) {
	c, err := speccache.Open(speccache.Config{Path: cfg.Injection.Cache.Dir, Logger: logger})
	if err != nil {
		exitErr("open cache", err)
	}
	defer c.Close()

	n, err := c.Purge()
	if err != nil {
		exitErr("purge", err)
	}

	fmt.Printf(`{"ok":true,"purged":%d}`+"\n", n)
}
