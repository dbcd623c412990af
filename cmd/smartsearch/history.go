package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jwulff/smartsearch/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List saved chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			now := time.Now()
			if err := history.WriteList(cmd.OutOrStdout(), e.store.LoadAll(), now); err != nil {
				return err
			}
			if ts, ok, err := e.store.SlotUpdatedAt(); err == nil && ok {
				cmd.Printf("\nLast saved %s.\n", humanizeSince(ts, now))
			}
			return nil
		},
	}
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve saved chats to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			return history.NewServer(e.store, version, e.log).ServeStdio()
		},
	}
}

func humanizeSince(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}
