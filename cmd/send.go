package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/scanup/internal/picker"
	"github.com/fakeyudi/scanup/internal/session"
)

var (
	sendTitle   string
	sendBatches []string
)

var sendCmd = &cobra.Command{
	Use:   "send [file...]",
	Short: "Upload files without the TUI",
	Long: `Builds one session from the command line and uploads it.

Each --batch is one picker selection given as a comma-separated list of
paths; positional files form a final selection. Files keep the order they
were given in, duplicates included. The server's JSON reply is printed to
stdout.`,
	Example: `  scanup send --title "Grandma's Soup" --batch p1.jpg,p2.jpg --batch p3.jpg
  scanup send --title Stew *.jpg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLog, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeLog()

		selections := make([][]string, 0, len(sendBatches)+1)
		for _, b := range sendBatches {
			selections = append(selections, splitBatch(b))
		}
		if len(args) > 0 {
			selections = append(selections, args)
		}

		ctrl := newController(logger)
		if err := ctrl.StartSession(sendTitle); err != nil {
			return err
		}
		for _, paths := range selections {
			files, err := picker.FromPaths(paths)
			if err != nil {
				return err
			}
			if err := ctrl.FilesSelected(files...); err != nil {
				return err
			}
		}

		cmd.Printf("Uploading %q with %d file(s) to %s\n", ctrl.Title(), len(ctrl.Files()), GetConfig().Endpoint)
		ch, err := ctrl.Submit(cmd.Context())
		if err != nil {
			return err
		}
		res, err := awaitResult(cmd.Context(), ch)
		if err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("upload failed: %w", res.Err)
		}
		return printBody(cmd, res.Body)
	},
}

// splitBatch splits a comma-separated --batch value, dropping blanks.
func splitBatch(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// awaitResult blocks until the submission settles or ctx is cancelled.
func awaitResult(ctx context.Context, ch <-chan session.Result) (session.Result, error) {
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return session.Result{}, fmt.Errorf("interrupted while uploading: %w", ctx.Err())
	}
}

// printBody writes the server reply to stdout, indented when it is valid JSON.
func printBody(cmd *cobra.Command, body json.RawMessage) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(body)
	}
	pretty.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(pretty.Bytes())
	return err
}

func init() {
	sendCmd.Flags().StringVarP(&sendTitle, "title", "t", "", "recipe title")
	sendCmd.Flags().StringArrayVarP(&sendBatches, "batch", "b", nil, "comma-separated files forming one selection (repeatable)")
	rootCmd.AddCommand(sendCmd)
}
