package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"snap"},
		Short:   "inspect match snapshot history",
	}
	cmd.AddCommand(
		newSnapshotLatestCmd(),
		newSnapshotAtCmd(),
		newSnapshotDeltaCmd(),
		newSnapshotClearCmd(),
	)
	return cmd
}

func newSnapshotLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest [container-id] [match-id]",
		Short: "show the most recent snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			path := fmt.Sprintf("/api/containers/%s/matches/%s/snapshot", args[0], args[1])
			if err := newAPIClient(flagServer).get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newSnapshotAtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "at [container-id] [match-id] [tick]",
		Short: "show the snapshot retained for a specific tick",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			path := fmt.Sprintf("/api/containers/%s/matches/%s/snapshots/%s", args[0], args[1], args[2])
			if err := newAPIClient(flagServer).get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newSnapshotDeltaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delta [container-id] [match-id] [since-tick]",
		Short: "show the snapshot delta since a given tick",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			path := fmt.Sprintf("/api/containers/%s/matches/%s/snapshots/delta?fromTick=%s", args[0], args[1], args[2])
			if err := newAPIClient(flagServer).get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newSnapshotClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [container-id] [match-id]",
		Short: "discard a match's retained snapshot history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/containers/%s/matches/%s/snapshots/history", args[0], args[1])
			if err := newAPIClient(flagServer).del(path); err != nil {
				return err
			}
			fmt.Println("cleared")
			return nil
		},
	}
}
