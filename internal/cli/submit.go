package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/threadpool/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	var (
		kind        string
		script      string
		module      string
		function    string
		argsJSON    string
		memoryPages int
		wait        bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task to a threadpool server",
		Long: "Submit a task. Script kinds (script, blocking) evaluate --script; module\n" +
			"kinds (module, memory) call --function in the cached --module.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"kind": kind}
			if script != "" {
				body["script"] = script
			}
			if module != "" {
				body["module"] = module
			}
			if function != "" {
				body["function"] = function
			}
			if memoryPages > 0 {
				body["memory_pages"] = memoryPages
			}
			if argsJSON != "" {
				var callArgs []any
				if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
					return fmt.Errorf("--args must be a JSON array: %w", err)
				}
				body["args"] = callArgs
			}

			resp, err := client.Post(cmd.Context(), "/api/v1/tasks", body)
			if err != nil {
				return fmt.Errorf("submit task: %w", err)
			}
			var t model.Task
			if err := decodeData(resp, &t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task submitted: %s\n", t.ID)

			if !wait {
				return nil
			}
			done, err := waitForTask(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			printTask(cmd, done)
			if done.State == model.TaskStateFailed {
				return fmt.Errorf("task %s failed", done.ID)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&kind, "kind", string(model.TaskKindModule), "Task kind: script, blocking, module, memory")
	f.StringVar(&script, "script", "", "JavaScript to evaluate (script kinds)")
	f.StringVar(&module, "module", "", "Module hash (module kinds)")
	f.StringVar(&function, "function", "", "Function to call (module kinds)")
	f.StringVar(&argsJSON, "args", "", "Arguments as a JSON array")
	f.IntVar(&memoryPages, "memory-pages", 0, "Memory size in 64 KiB pages (memory kind)")
	f.BoolVar(&wait, "wait", false, "Wait for the task to finish and print it")
	return cmd
}

// waitForTask polls the server until task id is terminal.
func waitForTask(ctx context.Context, id string) (*model.Task, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		resp, err := client.Get(ctx, "/api/v1/tasks/"+id)
		if err != nil {
			return nil, fmt.Errorf("get task: %w", err)
		}
		var t model.Task
		if err := decodeData(resp, &t); err != nil {
			return nil, err
		}
		if t.State.IsTerminal() {
			return &t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
