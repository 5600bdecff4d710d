package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCommandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "command",
		Aliases: []string{"cmd"},
		Short:   "submit and inspect queued match commands",
	}
	cmd.AddCommand(newCommandListCmd(), newCommandSubmitCmd())
	return cmd
}

func newCommandListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [container-id] [match-id]",
		Short: "list commands queued for a match",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []any
			path := fmt.Sprintf("/api/containers/%s/matches/%s/commands", args[0], args[1])
			if err := newAPIClient(flagServer).get(path, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newCommandSubmitCmd() *cobra.Command {
	var module, name string
	var argPairs []string
	cmd := &cobra.Command{
		Use:   "submit [container-id] [match-id]",
		Short: "submit a command onto a match's queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedArgs, err := parseFloatPairs(argPairs)
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/containers/%s/matches/%s/commands", args[0], args[1])
			if err := newAPIClient(flagServer).post(path, map[string]any{
				"module": module,
				"name":   name,
				"args":   parsedArgs,
			}, nil); err != nil {
				return err
			}
			fmt.Println("accepted")
			return nil
		},
	}
	cmd.Flags().StringVar(&module, "module", "", "module that owns the command")
	cmd.Flags().StringVar(&name, "name", "", "command name")
	cmd.Flags().StringSliceVar(&argPairs, "arg", nil, "command argument as key=value (repeatable)")
	cmd.MarkFlagRequired("module")
	cmd.MarkFlagRequired("name")
	return cmd
}

func parseFloatPairs(pairs []string) (map[string]float32, error) {
	out := make(map[string]float32, len(pairs))
	for _, p := range pairs {
		key, value, ok := splitKV(p)
		if !ok {
			return nil, fmt.Errorf("invalid --arg %q, want key=value", p)
		}
		var f float64
		if _, err := fmt.Sscanf(value, "%g", &f); err != nil {
			return nil, fmt.Errorf("invalid --arg %q: %w", p, err)
		}
		out[key] = float32(f)
	}
	return out, nil
}

func splitKV(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
