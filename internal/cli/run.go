package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/threadpool/internal/scheduler"
	"github.com/me/threadpool/internal/worker"
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/task"
)

type runResult struct {
	index    int
	workerID uint32
	value    any
	err      error
}

func newRunCmd() *cobra.Command {
	var (
		function    string
		argsJSON    string
		count       int
		memoryPages int
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run FILE.js",
		Short: "Run a module function on a local pool",
		Long: "Compile FILE.js, cache it in a local pool and call --function --count\n" +
			"times concurrently. With --memory-pages each call gets its own linear\n" +
			"memory, visible to the script as the ArrayBuffer 'memory'.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}
			var callArgs []any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
					return fmt.Errorf("--args must be a JSON array: %w", err)
				}
			}

			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read module: %w", err)
			}
			mod, err := artifact.Compile(filepath.Base(args[0]), string(src))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			sp := worker.NewSpawner(ctx, logger)
			pool, err := scheduler.Spawn(ctx, scheduler.Config{Capacity: cfg.Capacity}, sp, logger)
			if err != nil {
				cancel()
				return err
			}
			defer func() {
				pool.Close()
				cancel()
				sp.Wait()
			}()

			if err := pool.CacheModule(mod); err != nil {
				return err
			}

			results := make(chan runResult, count)
			call := func(i int, env task.Env, m *artifact.Module) {
				res := runResult{index: i, workerID: env.WorkerID()}
				defer func() {
					if p := recover(); p != nil {
						res.err = fmt.Errorf("task panicked: %v", p)
					}
					results <- res
				}()
				if timeout > 0 {
					stop := worker.InterruptAfter(env, timeout)
					defer stop()
				}
				res.value, res.err = worker.Call(env, m, function, callArgs...)
			}

			for i := range count {
				if memoryPages > 0 {
					mem, err := artifact.NewMemory(memoryPages)
					if err != nil {
						return err
					}
					err = pool.SpawnWithModuleAndMemory(mod, mem, func(_ context.Context, env task.Env, m *artifact.Module, mm *artifact.Memory) {
						if err := worker.BindMemory(env, mm); err != nil {
							results <- runResult{index: i, workerID: env.WorkerID(), err: err}
							return
						}
						call(i, env, m)
					})
				} else {
					err = pool.SpawnWithModule(mod, func(_ context.Context, env task.Env, m *artifact.Module) {
						call(i, env, m)
					})
				}
				if err != nil {
					return fmt.Errorf("submit task %d: %w", i, err)
				}
			}

			ordered := make([]runResult, count)
			for range count {
				select {
				case res := <-results:
					ordered[res.index] = res
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, res := range ordered {
				if res.err != nil {
					failed++
					fmt.Fprintf(out, "#%d  worker %d  error: %v\n", res.index, res.workerID, res.err)
					continue
				}
				value, err := json.Marshal(res.value)
				if err != nil {
					value = []byte(fmt.Sprintf("%v", res.value))
				}
				fmt.Fprintf(out, "#%d  worker %d  %s\n", res.index, res.workerID, value)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tasks failed", failed, count)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&function, "function", "main", "Global function to call")
	cmd.Flags().StringVar(&argsJSON, "args", "", "Arguments as a JSON array, e.g. '[1, 2]'")
	cmd.Flags().IntVar(&count, "count", 1, "Number of calls")
	cmd.Flags().IntVar(&memoryPages, "memory-pages", 0, "Give each call a fresh memory of this many 64 KiB pages")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Interrupt calls running longer than this")
	return cmd
}
