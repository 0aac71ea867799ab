// Package cli implements the storefront command line.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/stockflow/storefront/internal/app"
	"github.com/stockflow/storefront/internal/config"
	"github.com/stockflow/storefront/internal/identity"
	"github.com/stockflow/storefront/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Email   string

	appOptions []app.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the storefront command tree. Extra app options are
// applied to every command that assembles the services.
func NewRootCommand(appOpts ...app.Option) *cobra.Command {
	opts := &RootOptions{appOptions: appOpts}

	cmd := &cobra.Command{
		Use:   "storefront",
		Short: "Stockflow storefront client",
		Long:  "Browse your wallet, buy video licenses and top up from the terminal.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Email, "email", "", "account email (defaults to the last signed-in account)")

	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewBuyCommand(opts))
	cmd.AddCommand(NewTopUpCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, w: cmd.OutOrStdout()}
}

// open assembles the services with logs on stderr.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command, extra ...app.Option) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	logger := logging.NewText(cmd.ErrOrStderr(), level)

	a, err := app.Build(ctx, cfg, logger, append(slices.Clone(o.appOptions), extra...)...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "build app", err)
	}
	return a, nil
}

// signIn establishes the session for --email, or restores the last one.
func (o *RootOptions) signIn(ctx context.Context, a *app.App) error {
	if o.Email == "" {
		if err := a.Restore(ctx); err != nil {
			return WrapExitError(ExitCommandError, "restore session", err)
		}
	} else {
		res, err := a.Identity.Ingest(ctx, identity.Event{
			Type:          identity.EventSignedIn,
			Email:         o.Email,
			Channel:       identity.ChannelFederated,
			EmailVerified: true,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "sign in", err)
		}
		if res.Offline {
			return NewExitError(ExitCommandError, "ledger unavailable, try again later")
		}
	}
	if a.Session.Email() == "" {
		return NewExitError(ExitCommandError, "not signed in: pass --email")
	}
	return nil
}
