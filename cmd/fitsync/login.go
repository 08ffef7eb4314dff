package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newLoginCmd creates the login command.
func newLoginCmd(configPath *string) *cobra.Command {
	var logout bool

	cmd := &cobra.Command{
		Use:   "login [user-id]",
		Short: "Sign in and persist the sync identity",
		Long: `Store the user identity sent with every sync request. The identity
can be given as an argument or entered at a hidden prompt.

Examples:
  fitsync login user-123
  fitsync login             # prompt without echo
  fitsync login --logout    # sign out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				if logout {
					if err := a.facade.SetIdentity(""); err != nil {
						return err
					}
					fmt.Println("Signed out.")
					return nil
				}

				var identity string
				if len(args) == 1 {
					identity = args[0]
				} else {
					fmt.Print("User id: ")
					raw, err := term.ReadPassword(int(syscall.Stdin))
					fmt.Println()
					if err != nil {
						return fmt.Errorf("failed to read user id: %w", err)
					}
					identity = strings.TrimSpace(string(raw))
				}
				if identity == "" {
					return fmt.Errorf("user id cannot be empty")
				}

				if err := a.facade.SetIdentity(identity); err != nil {
					return err
				}
				fmt.Printf("Signed in as %s\n", identity)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&logout, "logout", false, "clear the stored identity")
	return cmd
}
