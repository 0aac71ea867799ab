package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stockflow/storefront/internal/app"
	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/money"
	"github.com/stockflow/storefront/internal/purchase"
)

// BuyOptions holds flags for the buy command.
type BuyOptions struct {
	*RootOptions
	VideoID          string
	Title            string
	Price            string
	CancelDuplicates bool
	Yes              bool
}

// NewBuyCommand runs the purchase flow for one video.
func NewBuyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy a license for a video",
		Long: `Buy a license for a video, paying from the wallet.

When the account already owns the video the purchase waits for the
repurchase countdown. Type "n" and Enter to cancel, or just Enter to buy
again immediately.

Example:
  storefront buy --email me@example.com --video v-42 --title "Harbour at dawn" --price 4.99`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuy(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.VideoID, "video", "", "video id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "video title")
	cmd.Flags().StringVar(&opts.Price, "price", "", "price in dollars, e.g. 4.99")
	cmd.Flags().BoolVar(&opts.CancelDuplicates, "cancel-duplicates", false, "cancel instead of buying a video you already own")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "buy again without waiting when the video is already owned")
	_ = cmd.MarkFlagRequired("video")
	_ = cmd.MarkFlagRequired("price")
	cmd.MarkFlagsMutuallyExclusive("cancel-duplicates", "yes")

	return cmd
}

func runBuy(cmd *cobra.Command, opts *BuyOptions) error {
	price, err := money.Parse(opts.Price)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --price", err)
	}
	intent := purchase.Intent{VideoID: opts.VideoID, Title: opts.Title, Price: price}
	if intent.Title == "" {
		intent.Title = intent.VideoID
	}

	ctx := cmd.Context()
	tc := &terminalConfirmer{in: cmd.InOrStdin(), out: cmd.ErrOrStderr()}
	switch {
	case opts.CancelDuplicates:
		tc.decision = decideCancel
	case opts.Yes:
		tc.decision = decideProceed
	}
	a, err := opts.open(ctx, cmd, app.WithConfirmer(tc))
	if err != nil {
		return err
	}
	defer a.Close()
	tc.countdown = a.Cfg.RepurchaseCountdown

	if opts.Email != "" {
		if err := opts.signIn(ctx, a); err != nil {
			return err
		}
	} else if err := a.Restore(ctx); err != nil {
		return WrapExitError(ExitCommandError, "restore session", err)
	}

	outcome, err := a.Purchases.Run(ctx, intent)
	p := opts.printer(cmd)
	switch {
	case errors.Is(err, purchase.ErrInvalidIntent):
		return WrapExitError(ExitCommandError, "invalid purchase", err)
	case errors.Is(err, ledger.ErrTransport):
		return WrapExitError(ExitCommandError, "ledger unavailable, try again later", err)
	case err != nil:
		msg := outcome.Message
		if msg == "" {
			msg = err.Error()
		}
		return p.failure(outcome, msg)
	}

	switch outcome.State {
	case purchase.StateCompleted:
		return p.result(outcome,
			fmt.Sprintf("Purchased %q for %s. Balance: %s", outcome.License.Title, outcome.License.Amount, outcome.Balance),
			"Download: "+outcome.License.DirectDownloadURL(),
		)
	case purchase.StateAborted:
		return p.failure(outcome, abortMessage(outcome))
	default:
		return p.failure(outcome, outcome.Message)
	}
}

func abortMessage(o purchase.Outcome) string {
	switch o.Reason {
	case purchase.ReasonAuthRequired:
		return "Sign in first: pass --email."
	case purchase.ReasonInsufficientFunds:
		return fmt.Sprintf("Not enough funds: balance %s, %s short. Run `storefront topup` to add funds.", o.Balance, o.Shortfall)
	case purchase.ReasonCancelled:
		return "Purchase cancelled."
	default:
		return o.Message
	}
}

type decision int

const (
	decideAsk decision = iota
	decideCancel
	decideProceed
)

// terminalConfirmer asks on the terminal before buying an owned video. No
// answer within the countdown means proceed.
type terminalConfirmer struct {
	in        io.Reader
	out       io.Writer
	countdown time.Duration
	decision  decision
}

func (t *terminalConfirmer) Confirm(ctx context.Context, p purchase.Prompt) (bool, error) {
	fmt.Fprintf(t.out, "You already bought %q on %s.\n", p.Prior.Title, p.Prior.Timestamp.Format("2006-01-02"))
	switch t.decision {
	case decideCancel:
		return false, nil
	case decideProceed:
		return true, nil
	}

	wait := t.countdown
	if wait <= 0 {
		wait = purchase.DefaultCountdown
	}
	fmt.Fprintf(t.out, "Buying again in %s. Enter to buy now, n to cancel: ", wait)

	answers := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(t.in).ReadString('\n')
		if err != nil && line == "" {
			return
		}
		answers <- strings.ToLower(strings.TrimSpace(line))
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		fmt.Fprintln(t.out)
		return true, nil
	case answer := <-answers:
		return !strings.HasPrefix(answer, "n"), nil
	}
}
