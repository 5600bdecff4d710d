package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type containerView struct {
	ID      string   `json:"id"`
	State   string   `json:"state"`
	Modules []string `json:"modules"`
	Matches []string `json:"matches"`
}

func newContainerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "container",
		Aliases: []string{"containers", "c"},
		Short:   "manage simulation containers",
	}
	cmd.AddCommand(
		newContainerCreateCmd(),
		newContainerListCmd(),
		newContainerGetCmd(),
		newContainerDeleteCmd(),
		newContainerLifecycleCmd("start", "start a container's tick loop"),
		newContainerLifecycleCmd("pause", "pause a container"),
		newContainerLifecycleCmd("resume", "resume a paused container"),
		newContainerLifecycleCmd("stop", "stop a container"),
		newContainerLifecycleCmd("tick", "advance a container by one tick"),
		newContainerLifecycleCmd("stop-auto", "stop a container's auto-advance loop"),
		newContainerPlayCmd(),
		newContainerModuleCmd(),
	)
	return cmd
}

func newContainerCreateCmd() *cobra.Command {
	var id string
	var autoAdvanceMS, stopTimeoutMS int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a new container",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out containerView
			err := newAPIClient(flagServer).post("/api/containers", map[string]any{
				"id":              id,
				"auto_advance_ms": autoAdvanceMS,
				"stop_timeout_ms": stopTimeoutMS,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "container id (generated if omitted)")
	cmd.Flags().Int64Var(&autoAdvanceMS, "auto-advance-ms", 0, "auto-advance interval in milliseconds (0 = use daemon default)")
	cmd.Flags().Int64Var(&stopTimeoutMS, "stop-timeout-ms", 0, "graceful stop timeout in milliseconds")
	return cmd
}

func newContainerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []containerView
			if err := newAPIClient(flagServer).get("/api/containers", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newContainerGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [container-id]",
		Short: "show a container's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out containerView
			if err := newAPIClient(flagServer).get("/api/containers/"+args[0], &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newContainerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [container-id]",
		Short: "delete a stopped container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(flagServer).del("/api/containers/" + args[0]); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func newContainerLifecycleCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [container-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out containerView
			if err := newAPIClient(flagServer).post(fmt.Sprintf("/api/containers/%s/%s", args[0], action), nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newContainerPlayCmd() *cobra.Command {
	var intervalMS int64
	cmd := &cobra.Command{
		Use:   "play [container-id]",
		Short: "start a container's auto-advance loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out containerView
			err := newAPIClient(flagServer).post(fmt.Sprintf("/api/containers/%s/play", args[0]), map[string]any{
				"interval_ms": intervalMS,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().Int64Var(&intervalMS, "interval-ms", 0, "tick interval in milliseconds (0 = use the container's configured default)")
	return cmd
}

func newContainerModuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "module",
		Short: "manage modules installed in a container",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [container-id]",
			Short: "list installed modules",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var out []string
				if err := newAPIClient(flagServer).get(fmt.Sprintf("/api/containers/%s/modules", args[0]), &out); err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		&cobra.Command{
			Use:   "install [container-id] [module-name]",
			Short: "install a builtin module into a container",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var out containerView
				err := newAPIClient(flagServer).post(fmt.Sprintf("/api/containers/%s/modules", args[0]), map[string]string{
					"name": args[1],
				}, &out)
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
	)
	return cmd
}
