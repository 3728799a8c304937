package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/muster-scenario-core/internal/dispatch"
	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the worker-facing HTTP protocol and run the janitor sweep loop",
	Long: `Starts the claim/succeed/fail/query HTTP surface (internal/dispatch) for
worker processes, and the janitor's ticker-driven stuck-task sweep, until
interrupted (SIGINT/SIGTERM).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "address to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		printError(err)
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Janitor.Start(ctx)
	defer a.Janitor.Stop()

	srv := &http.Server{Addr: serveAddr, Handler: dispatch.NewServer(a.Service)}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("serve", "listening on %s", serveAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Info("serve", "shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
