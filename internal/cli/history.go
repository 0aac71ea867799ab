package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewHistoryCommand lists purchased licenses.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List purchased licenses",
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

			licenses, err := a.Session.RefreshPurchases(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "fetch purchases", err)
			}
			lines := make([]string, 0, len(licenses))
			for _, l := range licenses {
				lines = append(lines, fmt.Sprintf("%s  %-24s %8s  %s",
					l.Timestamp.Format("2006-01-02 15:04"), l.Title, l.Amount, l.DirectDownloadURL()))
			}
			if len(lines) == 0 {
				lines = append(lines, "no purchases yet")
			}
			return opts.printer(cmd).result(map[string]any{"purchases": licenses}, lines...)
		},
	}
}
