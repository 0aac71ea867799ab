package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stockflow/storefront/internal/funding"
	"github.com/stockflow/storefront/internal/money"
)

// NewBalanceCommand prints the wallet balance.
func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the wallet balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := opts.signIn(ctx, a); err != nil {
				return err
			}

			balance, err := a.Session.RefreshBalance(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "refresh balance", err)
			}
			email := a.Session.Email()
			return opts.printer(cmd).result(
				map[string]any{"email": email, "walletBalance": balance},
				fmt.Sprintf("%s: %s", email, balance),
			)
		},
	}
}

// TopUpOptions holds flags for the topup command.
type TopUpOptions struct {
	*RootOptions
	Amount string
}

// NewTopUpCommand starts a checkout for one of the allowed amounts.
func NewTopUpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TopUpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "topup",
		Short: "Start a wallet top-up checkout",
		Long: `Start a wallet top-up checkout and print the payment page URL.

Example:
  storefront topup --email me@example.com --amount 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := money.Parse(opts.Amount)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --amount", err)
			}

			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := opts.signIn(ctx, a); err != nil {
				return err
			}

			redirect, err := a.Funding.TopUp(ctx, amount)
			if err != nil {
				return WrapExitError(ExitCommandError, "top up", err)
			}
			return opts.printer(cmd).result(
				funding.TopUpResponse{RedirectURL: redirect, Amount: amount},
				fmt.Sprintf("Complete the %s top-up at:", amount),
				redirect,
			)
		},
	}

	cmd.Flags().StringVar(&opts.Amount, "amount", "", "top-up amount, one of the configured menu values")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

// NewReconcileCommand reports the checkout result and refreshes the balance.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	var outcome string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Record the result of a checkout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := opts.signIn(ctx, a); err != nil {
				return err
			}

			balance, err := a.Funding.Reconcile(ctx, outcome)
			if err != nil {
				return WrapExitError(ExitCommandError, "reconcile", err)
			}
			return opts.printer(cmd).result(
				funding.ReconcileResponse{Outcome: outcome, WalletBalance: balance},
				fmt.Sprintf("%s: balance %s", outcome, balance),
			)
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", funding.OutcomeSuccess, "checkout outcome (success|canceled)")

	return cmd
}
