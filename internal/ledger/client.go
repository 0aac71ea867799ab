package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultTimeout = 15 * time.Second

// Client talks to the remote ledger over its single request endpoint. Each
// method issues exactly one request; retries belong to the caller.
type Client struct {
	endpoint *url.URL
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient builds a ledger client for the given endpoint URL.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ledger endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("ledger endpoint must be http(s), got %q", endpoint)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{endpoint: u, timeout: timeout, logger: logger}, nil
}

// CreateIdentity registers an identity; existing emails are not duplicated.
func (c *Client) CreateIdentity(ctx context.Context, in CreateIdentityInput) (CreateIdentityResult, error) {
	var resp createUserResponse
	err := c.call(ctx, OpCreateIdentity, createUserRequest{
		Email:         NormalizeEmail(in.Email),
		Name:          in.DisplayName,
		WelcomeBonus:  in.WantsBonus,
		EmailVerified: in.EmailVerified,
		DeviceID:      in.DeviceFingerprint,
	}, &resp)
	if err != nil {
		return CreateIdentityResult{}, err
	}
	if !resp.Success {
		return CreateIdentityResult{}, &RejectedError{Op: OpCreateIdentity, Message: resp.Error}
	}
	return CreateIdentityResult{
		IsNewUser:         resp.IsNewUser,
		BonusGranted:      resp.WelcomeBonus,
		NeedsVerification: resp.NeedsVerification,
		Balance:           resp.Wallet,
	}, nil
}

// GrantBonus asks the ledger to apply the signup bonus.
func (c *Client) GrantBonus(ctx context.Context, email, deviceFingerprint string) (GrantOutcome, error) {
	var resp grantBonusResponse
	if err := c.call(ctx, OpGrantBonus, grantBonusRequest{Email: NormalizeEmail(email), DeviceID: deviceFingerprint}, &resp); err != nil {
		return GrantOutcome{}, err
	}
	return grantOutcomeFromWire(resp), nil
}

// FetchIdentity reads the authoritative balance.
func (c *Client) FetchIdentity(ctx context.Context, email string) (Identity, error) {
	var resp getUserResponse
	if err := c.call(ctx, OpFetchIdentity, emailRequest{Email: NormalizeEmail(email)}, &resp); err != nil {
		return Identity{}, err
	}
	if resp.Email == "" {
		return Identity{Email: NormalizeEmail(email)}, nil
	}
	return Identity{Found: true, Email: NormalizeEmail(resp.Email), Balance: resp.Wallet}, nil
}

// FetchPurchases reads the identity's license records.
func (c *Client) FetchPurchases(ctx context.Context, email string) ([]License, error) {
	var resp []wireLicense
	if err := c.call(ctx, OpFetchPurchases, emailRequest{Email: NormalizeEmail(email)}, &resp); err != nil {
		return nil, err
	}
	licenses := make([]License, 0, len(resp))
	for _, w := range resp {
		licenses = append(licenses, w.toLicense())
	}
	return licenses, nil
}

// SubmitPurchase asks the ledger for an atomic check-and-deduct plus
// license creation.
func (c *Client) SubmitPurchase(ctx context.Context, in SubmitPurchaseInput) (PurchaseResult, error) {
	var resp purchaseResponse
	err := c.call(ctx, OpSubmitPurchase, purchaseRequest{
		Email:      NormalizeEmail(in.Email),
		VideoID:    in.VideoID,
		VideoTitle: in.Title,
		Amount:     in.Amount,
		ClientTxID: in.ClientTxID,
	}, &resp)
	if err != nil {
		return PurchaseResult{}, err
	}
	return PurchaseResult{
		Success:      resp.Success,
		NewBalance:   resp.NewBalance,
		DownloadLink: resp.DownloadLink,
		Message:      resp.Message,
		Timestamp:    parseDate(resp.Date),
	}, nil
}

// CreateCheckoutSession obtains a redirect to the hosted checkout.
func (c *Client) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	var resp checkoutResponse
	err := c.call(ctx, OpCreateCheckoutSession, checkoutRequest{
		Email:      NormalizeEmail(in.Email),
		Amount:     in.Amount,
		SuccessURL: in.SuccessURL,
		CancelURL:  in.CancelURL,
	}, &resp)
	if err != nil {
		return CheckoutResult{}, err
	}
	return CheckoutResult{Success: resp.Success && resp.URL != "", RedirectURL: resp.URL, Message: resp.Error}, nil
}

func (c *Client) call(ctx context.Context, op Operation, body any, out any) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: op, Err: err}
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return &TransportError{Op: op, Err: context.DeadlineExceeded}
	}

	target := *c.endpoint
	query := target.Query()
	query.Set("action", string(op))
	target.RawQuery = query.Encode()

	agent := fiber.Post(target.String())
	agent.JSON(body)
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return &TransportError{Op: op, Err: err}
	}

	start := time.Now()
	code, payload, errs := agent.Bytes()
	if len(errs) > 0 {
		c.logger.Warn("ledger request failed", slog.String("op", string(op)), slog.Any("error", errors.Join(errs...)))
		return &TransportError{Op: op, Err: errors.Join(errs...)}
	}
	c.logger.Debug("ledger request", slog.String("op", string(op)), slog.Int("status", code), slog.Duration("duration", time.Since(start)))

	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		return &TransportError{Op: op, Status: code, Err: fmt.Errorf("unexpected status %s", http.StatusText(code))}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &TransportError{Op: op, Status: code, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
