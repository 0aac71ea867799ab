package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/storefront/internal/app"
	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/money"
	"github.com/stockflow/storefront/internal/purchase"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"LEDGER_URL", "DATABASE_URL", "REDIS_URL", "AMQP_URL"} {
		t.Setenv(key, "")
	}
	t.Setenv("APP_ENV", "development")
}

func execute(t *testing.T, l ledger.Ledger, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(app.WithLedger(l), app.WithoutInfra())
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type jsonResult struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

type outcomeView struct {
	State     string      `json:"state"`
	Reason    string      `json:"reason"`
	Shortfall money.Cents `json:"shortfall"`
	Balance   money.Cents `json:"walletBalance"`
}

func decodeOutcome(t *testing.T, raw string) (jsonResult, outcomeView) {
	t.Helper()
	var res jsonResult
	require.NoError(t, json.Unmarshal([]byte(raw), &res), raw)
	var outcome outcomeView
	require.NoError(t, json.Unmarshal(res.Data, &outcome))
	return res, outcome
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "storefront", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"balance", "history", "buy", "topup", "reconcile", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("email"))
}

func TestBuyCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	buy, _, err := cmd.Find([]string{"buy"})
	require.NoError(t, err)
	for _, name := range []string{"video", "title", "price", "cancel-duplicates", "yes"} {
		assert.NotNil(t, buy.Flags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, ledger.NewInMemory(), "balance", "--format", "yaml", "--email", "a@x.com")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBalance(t *testing.T) {
	isolateEnv(t)
	l := ledger.NewInMemory()
	ledger.SeedBalance(l, "a@x.com", money.FromUnits(7))

	out, err := execute(t, l, "balance", "--email", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com: 7.00\n", out)
}

func TestBalanceRequiresAccount(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, ledger.NewInMemory(), "balance")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not signed in")
}

func TestBuyFlow(t *testing.T) {
	isolateEnv(t)
	l := ledger.NewInMemory()
	ledger.SeedBalance(l, "a@x.com", money.FromUnits(5))

	out, err := execute(t, l, "buy", "--email", "a@x.com", "--video", "v1", "--title", "Harbour", "--price", "2", "--format", "json")
	require.NoError(t, err)
	res, outcome := decodeOutcome(t, out)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, "completed", outcome.State)
	assert.Equal(t, money.Cents(300), outcome.Balance)

	out, err = execute(t, l, "buy", "--email", "a@x.com", "--video", "v1", "--price", "2", "--cancel-duplicates", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	_, outcome = decodeOutcome(t, out)
	assert.Equal(t, string(purchase.ReasonCancelled), outcome.Reason)

	out, err = execute(t, l, "buy", "--email", "a@x.com", "--video", "v2", "--price", "10", "--format", "json")
	require.Error(t, err)
	_, outcome = decodeOutcome(t, out)
	assert.Equal(t, string(purchase.ReasonInsufficientFunds), outcome.Reason)
	assert.Equal(t, money.FromUnits(7), outcome.Shortfall)

	out, err = execute(t, l, "history", "--email", "a@x.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Harbour")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestTopUp(t *testing.T) {
	isolateEnv(t)
	l := ledger.NewInMemory()
	ledger.SeedBalance(l, "a@x.com", 0)

	out, err := execute(t, l, "topup", "--email", "a@x.com", "--amount", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "20.00")

	_, err = execute(t, l, "topup", "--email", "a@x.com", "--amount", "15")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTerminalConfirmer(t *testing.T) {
	prompt := purchase.Prompt{Prior: ledger.License{Title: "Clip", Timestamp: time.Now()}}

	var out bytes.Buffer
	tc := &terminalConfirmer{in: strings.NewReader("n\n"), out: &out, countdown: time.Minute}
	ok, err := tc.Confirm(context.Background(), prompt)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, out.String(), "Clip")

	tc = &terminalConfirmer{in: strings.NewReader("\n"), out: &out, countdown: time.Minute}
	ok, err = tc.Confirm(context.Background(), prompt)
	require.NoError(t, err)
	assert.True(t, ok)

	// no answer before the countdown means proceed
	tc = &terminalConfirmer{in: strings.NewReader(""), out: &out, countdown: 10 * time.Millisecond}
	ok, err = tc.Confirm(context.Background(), prompt)
	require.NoError(t, err)
	assert.True(t, ok)

	tc = &terminalConfirmer{out: &out, decision: decideCancel}
	ok, _ = tc.Confirm(context.Background(), prompt)
	assert.False(t, ok)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "x")))
	assert.Equal(t, ExitCommandError, GetExitCode(assert.AnError))
}
