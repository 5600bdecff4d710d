package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func newLoginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "authenticate and store a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				pw, err := promptPassword()
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = pw
			}
			c := newAPIClient(flagServer)
			var resp loginResponse
			if err := c.post("/api/auth/login", map[string]string{
				"username": username,
				"password": password,
			}, &resp); err != nil {
				return err
			}
			if err := saveToken(resp.Token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Printf("logged in as %s\n", resp.UserID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted, masked, if omitted)")
	cmd.MarkFlagRequired("username")
	return cmd
}

// promptPassword reads a password from the terminal without echoing it,
// the same masked-input idiom the fleet CLI uses for interactive
// credential entry.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "discard the stored session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearToken()
		},
	}
}
