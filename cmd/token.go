package cmd

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/huru0825/kenpo-watcher/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the /run bearer token",
	}
	cmd.AddCommand(newTokenHashCmd())
	return cmd
}

func newTokenHashCmd() *cobra.Command {
	var generate bool

	cmd := &cobra.Command{
		Use:   "hash [TOKEN]",
		Short: "Print the RUN_TOKEN_HASH for a token (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			switch {
			case generate:
				b := securecookie.GenerateRandomKey(24)
				if b == nil {
					return errors.New("failed to read random bytes")
				}
				token = base64.RawURLEncoding.EncodeToString(b)
				fmt.Fprintf(cmd.OutOrStdout(), "token: %s\n", token)
			case len(args) == 1:
				token = args[0]
			default:
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return errors.New("token must not be empty")
			}

			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export RUN_TOKEN_HASH='%s'\n", hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "generate a random token and print it with its hash")
	return cmd
}
