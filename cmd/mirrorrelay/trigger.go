package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/mirrorrelay/internal/dispatch"
)

var errSyncExhausted = errors.New("sync failed on every mirror")

func newTriggerCommand(opts *rootOptions) *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger the sync workflow on the first mirror that accepts it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rl, err := newOneShotRelay(cfg, logger)
			if err != nil {
				return err
			}
			out := rl.Sync(cmd.Context(), cfg, dispatch.PathScheduled, strings.TrimSpace(branch))
			if err := writeOutcome(cmd.OutOrStdout(), opts.Format, out); err != nil {
				return err
			}
			if !out.OK {
				if out.Err != nil {
					return fmt.Errorf("%w: %s", errSyncExhausted, out.Err.Cause)
				}
				return errSyncExhausted
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch to dispatch on (defaults to the primary branch)")
	return cmd
}

func writeOutcome(w io.Writer, format string, out dispatch.Outcome) error {
	if w == nil {
		w = os.Stdout
	}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if out.OK {
		_, err := fmt.Fprintf(w, "Sync triggered on %s (%s)\n", out.Mirror, out.Branch)
		return err
	}
	cause := "unknown error"
	if out.Err != nil {
		cause = out.Err.Cause
	}
	_, err := fmt.Fprintf(w, "Sync failed on all %d mirrors\nLast error: %s\n", len(out.Attempted), cause)
	return err
}
