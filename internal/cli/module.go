package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/threadpool/pkg/model"
)

func newModuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "module",
		Short: "Manage modules on a threadpool server",
	}
	cmd.AddCommand(newModuleAddCmd(), newModuleListCmd())
	return cmd
}

func newModuleAddCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add FILE.js",
		Short: "Compile and cache a module on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read module: %w", err)
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			resp, err := client.Post(cmd.Context(), "/api/v1/modules", map[string]string{
				"name":   name,
				"source": string(src),
			})
			if err != nil {
				return fmt.Errorf("add module: %w", err)
			}
			var data struct {
				model.Module
				Created bool `json:"created"`
			}
			if err := decodeData(resp, &data); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if data.Created {
				fmt.Fprintf(out, "Module registered: %s (%s)\n", data.Hash, data.Name)
			} else {
				fmt.Fprintf(out, "Module already registered: %s (%s)\n", data.Hash, data.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Module name (default: file name)")
	return cmd
}

func newModuleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List modules known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/modules")
			if err != nil {
				return fmt.Errorf("list modules: %w", err)
			}
			var mods []model.Module
			if err := decodeData(resp, &mods); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(mods) == 0 {
				fmt.Fprintln(out, "No modules found.")
				return nil
			}
			fmt.Fprintf(out, "%-64s  %-24s  %s\n", "HASH", "NAME", "CREATED")
			for _, m := range mods {
				fmt.Fprintf(out, "%-64s  %-24s  %s\n", m.Hash, m.Name, m.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
