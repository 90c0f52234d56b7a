package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/cookies"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func newCookiesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect or seed the stored session cookies",
	}
	cmd.AddCommand(newCookiesShowCmd(opts))
	cmd.AddCommand(newCookiesImportCmd(opts))
	return cmd
}

func newCookiesShowCmd(opts *rootOptions) *cobra.Command {
	var reveal bool

	cmd := withConfig(&cobra.Command{
		Use:   "show",
		Short: "Print the latest stored snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.Read(cmd.Context())
			if err != nil {
				return err
			}
			if !reveal {
				snap = masked(snap)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(snap)
		},
	})
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print cookie values instead of masking them")
	return cmd
}

func newCookiesImportCmd(opts *rootOptions) *cobra.Command {
	return withConfig(&cobra.Command{
		Use:   "import FILE|-",
		Short: "Store cookies exported from a logged-in browser (JSON array or snapshot)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			snap, err := cookies.ParseSeed(string(raw), opts.cfg.CookieDomain())
			if err != nil {
				return err
			}
			if snap.Empty() {
				return fmt.Errorf("no cookies in %s", args[0])
			}
			if snap.CapturedAt.IsZero() {
				snap.CapturedAt = time.Now().UTC()
			}

			store, err := openStore(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Write(cmd.Context(), snap); err != nil {
				return err
			}
			_, hasSession := snap.Value(cookies.SessionKey)
			opts.log.Info("cookies imported", zap.Int("count", len(snap.Entries)), zap.Bool("session", hasSession))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d cookies\n", len(snap.Entries))
			return nil
		},
	})
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func masked(s cookies.Snapshot) cookies.Snapshot {
	out := cookies.Snapshot{CapturedAt: s.CapturedAt, Entries: make([]cookies.Entry, len(s.Entries))}
	for i, e := range s.Entries {
		if len(e.Value) > 4 {
			e.Value = e.Value[:4] + "…"
		} else if e.Value != "" {
			e.Value = "…"
		}
		out.Entries[i] = e
	}
	return out
}
