package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/threadpool/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Show the state and result of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/tasks/"+args[0])
			if err != nil {
				return fmt.Errorf("get task: %w", err)
			}
			var t model.Task
			if err := decodeData(resp, &t); err != nil {
				return err
			}
			printTask(cmd, &t)
			return nil
		},
	}
}

func printTask(cmd *cobra.Command, t *model.Task) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task: %s\n", t.ID)
	fmt.Fprintf(out, "  Kind:     %s\n", t.Kind)
	fmt.Fprintf(out, "  State:    %s\n", t.State)
	if t.Module != "" {
		fmt.Fprintf(out, "  Module:   %s\n", t.Module)
		fmt.Fprintf(out, "  Function: %s\n", t.Function)
	}
	if t.WorkerID != 0 {
		fmt.Fprintf(out, "  Worker:   #%d\n", t.WorkerID)
	}
	if t.State == model.TaskStateSuccess {
		result, _ := json.Marshal(t.Result)
		fmt.Fprintf(out, "  Result:   %s\n", result)
	}
	if t.Error != "" {
		fmt.Fprintf(out, "  Error:    %s\n", t.Error)
	}
	fmt.Fprintf(out, "  Created:  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	if t.StartedAt != nil && t.CompletedAt != nil {
		fmt.Fprintf(out, "  Ran for:  %s\n", t.CompletedAt.Sub(*t.StartedAt).Round(time.Microsecond))
	}
}
