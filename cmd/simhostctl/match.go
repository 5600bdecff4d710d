package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type matchView struct {
	ID          string   `json:"id"`
	ContainerID string   `json:"container_id"`
	Modules     []string `json:"modules"`
	Tick        uint64   `json:"tick"`
}

type joinMatchResponse struct {
	PlayerID  string `json:"player_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "match",
		Aliases: []string{"matches", "m"},
		Short:   "manage matches within a container",
	}
	cmd.AddCommand(
		newMatchCreateCmd(),
		newMatchGetCmd(),
		newMatchDeleteCmd(),
		newMatchJoinCmd(),
	)
	return cmd
}

func newMatchCreateCmd() *cobra.Command {
	var id string
	var modules []string
	var queueCap, historySize int
	cmd := &cobra.Command{
		Use:   "create [container-id]",
		Short: "create a match in a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out matchView
			err := newAPIClient(flagServer).post(fmt.Sprintf("/api/containers/%s/matches", args[0]), map[string]any{
				"id":                     id,
				"modules":                modules,
				"command_queue_capacity": queueCap,
				"snapshot_history_size":  historySize,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "match id (generated if omitted)")
	cmd.Flags().StringSliceVar(&modules, "modules", nil, "modules to enable (defaults to the container's installed modules)")
	cmd.Flags().IntVar(&queueCap, "queue-capacity", 0, "command queue capacity (0 = daemon default)")
	cmd.Flags().IntVar(&historySize, "history-size", 0, "snapshot history size (0 = daemon default)")
	return cmd
}

func newMatchGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [container-id] [match-id]",
		Short: "show a match's state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out matchView
			path := fmt.Sprintf("/api/containers/%s/matches/%s", args[0], args[1])
			if err := newAPIClient(flagServer).get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newMatchDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [container-id] [match-id]",
		Short: "delete a match",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/containers/%s/matches/%s", args[0], args[1])
			if err := newAPIClient(flagServer).del(path); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func newMatchJoinCmd() *cobra.Command {
	var displayName string
	var ttlSeconds int64
	cmd := &cobra.Command{
		Use:   "join [container-id] [match-id]",
		Short: "join a match as a player, issuing a match-scoped token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out joinMatchResponse
			path := fmt.Sprintf("/api/containers/%s/matches/%s/join", args[0], args[1])
			err := newAPIClient(flagServer).post(path, map[string]any{
				"display_name": displayName,
				"ttl_seconds":  ttlSeconds,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "", "player display name")
	cmd.Flags().Int64Var(&ttlSeconds, "ttl-seconds", 0, "match token lifetime in seconds (0 = daemon default)")
	return cmd
}
