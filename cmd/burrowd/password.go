package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dqx0.com/go/burrow/handlers"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [user]",
	Short: "Hash a password for the auth handler",
	Long: `Read a password from the first line of standard input and print its
bcrypt hash. With --users and a user name the hash is stored in that users
file instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no password on standard input")
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return errors.New("empty password")
		}
		users, _ := cmd.Flags().GetString("users")
		if users == "" {
			hash, err := handlers.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		}
		if len(args) != 1 {
			return errors.New("a user name is required with --users")
		}
		if err := handlers.SetPassword(users, args[0], password); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "password for %s stored in %s\n", args[0], users)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
	hashPasswordCmd.Flags().String("users", "", "users file to update")
}
