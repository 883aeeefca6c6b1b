package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/scanup/internal/picker"
	"github.com/fakeyudi/scanup/internal/session"
)

var (
	watchTitle string
	watchCount int
	watchIdle  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Collect files dropped into a directory, then upload them",
	Long: `Watches a directory (for example a scanner's output folder). Files that
land close together count as one selection. Collection stops on Ctrl+C,
after --count files, or after --idle without new files; everything
collected is then uploaded in one request. Another Ctrl+C during the
upload abandons it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		if info, err := os.Stat(dir); err != nil {
			return err
		} else if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}

		logger, closeLog, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeLog()

		c := GetConfig()
		ctrl := newController(logger)
		if err := ctrl.StartSession(watchTitle); err != nil {
			return err
		}

		ctx := cmd.Context()
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()

		cmd.Printf("Watching %s for %q; press Ctrl+C to upload\n", dir, watchTitle)
		added := make(chan struct{}, 1)
		watchErr := make(chan error, 1)
		go func() {
			watchErr <- picker.Watch(watchCtx, dir, picker.WatchOptions{
				Accept:   picker.ParseAccept(c.Accept),
				Debounce: c.WatchDebounce.Std(),
				Logger:   logger,
			}, func(files []session.FileHandle) {
				if err := ctrl.FilesSelected(files...); err != nil {
					logger.Error("selection rejected", "error", err)
					return
				}
				cmd.Printf("+%d file(s), %d queued\n", len(files), len(ctrl.Files()))
				select {
				case added <- struct{}{}:
				default:
				}
			})
		}()

		var idle <-chan time.Time
		var idleTimer *time.Timer
		if watchIdle > 0 {
			idleTimer = time.NewTimer(watchIdle)
			defer idleTimer.Stop()
			idle = idleTimer.C
		}

		watching := true
	collect:
		for {
			select {
			case <-ctx.Done():
				break collect
			case <-idle:
				break collect
			case err := <-watchErr:
				watching = false
				if err != nil {
					return err
				}
				break collect
			case <-added:
				if watchCount > 0 && len(ctrl.Files()) >= watchCount {
					break collect
				}
				if idleTimer != nil {
					idleTimer.Reset(watchIdle)
				}
			}
		}

		// Stopping the watcher flushes a pending batch into the session.
		stopWatch()
		if watching {
			if err := <-watchErr; err != nil {
				return err
			}
		}

		if len(ctrl.Files()) == 0 {
			cmd.Println("No files collected; nothing uploaded")
			return nil
		}

		cmd.Printf("Uploading %q with %d file(s) to %s; press Ctrl+C again to abandon\n", ctrl.Title(), len(ctrl.Files()), c.Endpoint)
		// The interrupt that ended collection must not cancel the upload,
		// but a further one does.
		uploadCtx, stopUpload := signal.NotifyContext(context.WithoutCancel(ctx), os.Interrupt, syscall.SIGTERM)
		defer stopUpload()
		ch, err := ctrl.Submit(uploadCtx)
		if err != nil {
			return err
		}
		res := <-ch
		if !res.OK() {
			if uploadCtx.Err() != nil {
				return fmt.Errorf("upload abandoned: %w", res.Err)
			}
			return fmt.Errorf("upload failed: %w", res.Err)
		}
		return printBody(cmd, res.Body)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchTitle, "title", "t", "", "recipe title")
	watchCmd.Flags().IntVarP(&watchCount, "count", "n", 0, "upload once this many files are queued")
	watchCmd.Flags().DurationVar(&watchIdle, "idle", 0, "upload after this long without new files")
	rootCmd.AddCommand(watchCmd)
}
