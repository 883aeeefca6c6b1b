package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/scanup/internal/config"
	"github.com/fakeyudi/scanup/internal/session"
	"github.com/fakeyudi/scanup/internal/transport"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

var (
	endpointFlag string
	timeoutFlag  time.Duration
	logLevelFlag string
	logJSONFlag  bool
	logFileFlag  string
)

var rootCmd = &cobra.Command{
	Use:           "scanup",
	Short:         "Collect recipe scans across several picks and upload them in one request",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load and merge config files.
		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject()
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		cfg = config.Merge(global, project)

		// Flags win over both files.
		if cmd.Flags().Changed("endpoint") {
			cfg.Endpoint = endpointFlag
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Timeout = config.Duration(timeoutFlag)
		}
		return cfg.Validate()
	},
}

// Execute runs the root command. Exits with code 1 on error.
// Interrupts cancel the command context so watch and receive can wind down.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// newLogger builds the process logger. Logs go to --log-file when set,
// otherwise to fallback.
func newLogger(fallback io.Writer) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevelFlag))); err != nil {
		return nil, nil, fmt.Errorf("invalid --log-level %q: %w", logLevelFlag, err)
	}

	w := fallback
	closeFn := func() {}
	if logFileFlag != "" {
		f, err := os.OpenFile(logFileFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	if logJSONFlag {
		return slog.New(slog.NewJSONHandler(w, opts)), closeFn, nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), closeFn, nil
}

// newController wires a controller to the configured endpoint.
func newController(logger *slog.Logger, opts ...session.Option) *session.Controller {
	c := GetConfig()
	client := transport.NewClient(c.Endpoint,
		transport.WithTimeout(c.Timeout.Std()),
		transport.WithHeaders(c.Headers),
		transport.WithLogger(logger),
	)
	return session.NewController(client, append([]session.Option{session.WithLogger(logger)}, opts...)...)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&endpointFlag, "endpoint", "", "upload endpoint URL (overrides config)")
	pf.DurationVar(&timeoutFlag, "timeout", 0, "HTTP timeout for the upload, 0 waits forever (overrides config)")
	pf.StringVar(&logLevelFlag, "log-level", "info", "log level: debug, info, warn, error")
	pf.BoolVar(&logJSONFlag, "log-json", false, "write logs as JSON")
	pf.StringVar(&logFileFlag, "log-file", "", "append logs to this file instead of stderr")
}
