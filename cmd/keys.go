package cmd

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gorilla/securecookie"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate COOKIE_HASH_KEY and COOKIE_BLOCK_KEY values (base64) for sealing stored cookies",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := securecookie.GenerateRandomKey(64)
			block := securecookie.GenerateRandomKey(32)
			if hash == nil || block == nil {
				return errors.New("failed to read random bytes")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export COOKIE_HASH_KEY=%s\n", base64.StdEncoding.EncodeToString(hash))
			fmt.Fprintf(cmd.OutOrStdout(), "export COOKIE_BLOCK_KEY=%s\n", base64.StdEncoding.EncodeToString(block))
			return nil
		},
	}
}
