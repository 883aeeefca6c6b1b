package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/scanup/internal/picker"
	"github.com/fakeyudi/scanup/internal/session"
	"github.com/fakeyudi/scanup/internal/tui"
)

var errNotTerminal = errors.New("scan needs an interactive terminal; use \"scanup send\" instead")

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Pick recipe photos interactively and upload them",
	Long: `Opens a terminal UI. Enter a title, browse for photos as many times as
you like, then upload everything in one request. A failed upload keeps
the queued files so it can be retried.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(os.Stdin.Fd()) || !term.IsTerminal(os.Stdout.Fd()) {
			return errNotTerminal
		}

		// Logs would tear the alt screen, so they only go to --log-file.
		logger, closeLog, err := newLogger(io.Discard)
		if err != nil {
			return err
		}
		defer closeLog()

		c := GetConfig()
		ctrl := newController(logger)
		if err := tui.Run(cmd.Context(), ctrl, tui.Options{
			StartDir: c.StartDir,
			Accept:   picker.ParseAccept(c.Accept),
			Endpoint: c.Endpoint,
		}); err != nil {
			return fmt.Errorf("running TUI: %w", err)
		}

		// Summarise whatever the last session ended as.
		switch {
		case ctrl.Phase() == session.PhaseSubmitted && ctrl.Outcome() == session.OutcomeSucceeded:
			cmd.Printf("Uploaded %q (%d file(s))\n", ctrl.Title(), len(ctrl.Files()))
		case ctrl.Phase() == session.PhaseSubmitted && ctrl.Outcome() == session.OutcomeFailed:
			return fmt.Errorf("upload of %q failed: %w", ctrl.Title(), ctrl.LastError())
		case ctrl.Phase() == session.PhaseSubmitted:
			cmd.Printf("Quit while %q was still uploading\n", ctrl.Title())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
