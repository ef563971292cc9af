package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/threadpool/internal/scheduler"
)

func newPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show the server's workers and cached modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/pool")
			if err != nil {
				return fmt.Errorf("inspect pool: %w", err)
			}
			var snap scheduler.Snapshot
			if err := decodeData(resp, &snap); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workers:  %d of %d\n", snap.Workers(), snap.Capacity)
			fmt.Fprintf(out, "  Idle:   %v\n", snap.Idle)
			fmt.Fprintf(out, "  Busy:   %v\n", snap.Busy)
			fmt.Fprintf(out, "Modules:  %d\n", len(snap.Modules))
			for _, h := range snap.Modules {
				fmt.Fprintf(out, "  %s\n", h)
			}
			return nil
		},
	}
}
