package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stockflow/storefront/internal/server"
)

// NewServeCommand runs the local HTTP facade until interrupted.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP facade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Restore(ctx); err != nil {
				a.Logger.Warn("restore session", "error", err)
			}

			srv := server.New(a.Deps())
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Listen() }()

			a.Logger.Info("listening", "addr", a.Cfg.Address())
			select {
			case err := <-errCh:
				if err != nil {
					return WrapExitError(ExitCommandError, "server error", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownPeriod)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return WrapExitError(ExitCommandError, "shutdown", err)
			}
			return nil
		},
	}
}
