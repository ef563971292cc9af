package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/threadpool/pkg/model"
)

func newListCmd() *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/v1/tasks"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := client.Get(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			var tasks []model.Task
			if err := decodeData(resp, &tasks); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks found.")
				return nil
			}

			fmt.Fprintf(out, "%-41s  %-8s  %-8s  %-6s  %s\n", "ID", "KIND", "STATE", "WORKER", "CREATED")
			for _, t := range tasks {
				fmt.Fprintf(out, "%-41s  %-8s  %-8s  %-6d  %s\n",
					t.ID, t.Kind, t.State, t.WorkerID, t.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(tasks), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only tasks in this state (QUEUED, RUNNING, SUCCESS, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of tasks to show")
	return cmd
}
