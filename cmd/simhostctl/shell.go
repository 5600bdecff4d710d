package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

// newShellCmd opens an interactive readline-backed prompt that
// re-dispatches each line through the same command tree as one-shot
// invocations, so "container list" at the shell prompt is equivalent
// to "simhostctl container list" from the OS shell.
func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "open an interactive prompt against the configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell()
		},
	}
}

func runShell() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[38;2;135;206;235msimhostctl❯\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), ".simhostctl_history"),
		HistoryLimit:    500,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		args, err := shellSplit(input)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		root := newRootCmd()
		root.SetArgs(args)
		if err := root.Execute(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// shellSplit does minimal whitespace/quote-aware tokenization of a
// shell-prompt line, enough for "command arg \"quoted value\"" without
// pulling in a full shell-lexer dependency for a convenience REPL.
func shellSplit(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
		case ch == ' ' && !inQuotes:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(ch)
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quote in input")
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args, nil
}
