package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/threadpool/internal/config"
	"github.com/me/threadpool/internal/logging"
)

var (
	flagConfig    string
	flagServer    string
	flagDebug     bool
	flagLogFilter string
	flagLogFormat string
	flagCapacity  int

	cfg     config.Config
	logger  *slog.Logger
	console *logging.Console
	client  *Client
)

// defaultServer returns the API URL, preferring THREADPOOL_SERVER.
func defaultServer() string {
	if s := os.Getenv("THREADPOOL_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the threadpool CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "threadpool",
		Short: "threadpool: a bounded JavaScript worker pool",
		Long: "threadpool runs JavaScript tasks on a bounded pool of workers that share\n" +
			"a content-addressed module cache. Use serve to expose the pool over HTTP,\n" +
			"run to execute a module locally, and the remaining commands as a client.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			logger, console = logging.Setup(cfg.Log.Filter, cfg.Log.Format, cmd.ErrOrStderr())
			if err := logging.Install(logger); err != nil && !errors.Is(err, logging.ErrAlreadyInitialized) {
				return err
			}
			client = NewClient(flagServer, logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			console.Close()
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	pf.StringVar(&flagServer, "server", defaultServer(), "threadpool server URL (or THREADPOOL_SERVER env)")
	pf.BoolVar(&flagDebug, "debug", false, "Shorthand for --log-filter=debug")
	pf.StringVar(&flagLogFilter, "log-filter", logging.DefaultFilter, "Log filter, e.g. info,scheduler=trace")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	pf.IntVar(&flagCapacity, "capacity", 0, "Maximum number of workers (default: number of CPUs)")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newModuleCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newListCmd(),
		newPoolCmd(),
	)

	return root
}

// loadConfig reads --config, if given, and applies explicitly set flags
// on top of it.
func loadConfig(cmd *cobra.Command) error {
	cfg = config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log-filter") {
		cfg.Log.Filter = flagLogFilter
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
	if flags.Changed("capacity") {
		cfg.Capacity = flagCapacity
	}
	if flagDebug {
		cfg.Log.Filter = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
