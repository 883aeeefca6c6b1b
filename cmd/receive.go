package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/scanup/internal/receiver"
)

var (
	receiveAddr     string
	receiveMaxBytes int64
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Run a local endpoint that accepts uploads and echoes what arrived",
	Long: `Starts a development stand-in for the recipe app's scan route. Each
upload is answered with a JSON summary of its title and photo parts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLog, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer closeLog()

		h := receiver.NewHandler(receiveMaxBytes, logger, func(a receiver.Ack) {
			var total int64
			for _, p := range a.Photos {
				total += p.Bytes
			}
			cmd.Printf("received %q: %d photo(s), %s\n", a.Title, len(a.Photos), humanize.Bytes(uint64(total)))
		})

		ln, err := net.Listen("tcp", receiveAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", receiveAddr, err)
		}
		srv := &http.Server{
			Handler:      receiver.NewRouter(h, logger),
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		logger.Info("receiver starting", "addr", ln.Addr().String())
		cmd.Printf("Listening on http://%s/\n", ln.Addr())
		serveErr := make(chan error, 1)
		go func() { serveErr <- srv.Serve(ln) }()

		select {
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-cmd.Context().Done():
		}
		logger.Info("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
			return err
		}
		logger.Info("receiver stopped")
		return nil
	},
}

func init() {
	receiveCmd.Flags().StringVar(&receiveAddr, "addr", ":5000", "listen address")
	receiveCmd.Flags().Int64Var(&receiveMaxBytes, "max-bytes", receiver.DefaultMaxBytes, "largest accepted upload body")
	rootCmd.AddCommand(receiveCmd)
}
