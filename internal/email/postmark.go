package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

const postmarkEndpoint = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	endpoint    string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithEndpoint points the client at another Postmark-compatible API.
func WithEndpoint(url string) Option {
	return func(cl *Client) {
		cl.endpoint = url
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		endpoint:    postmarkEndpoint,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// SendGrantReceipt confirms a premium grant to the account's contact address.
func (c *Client) SendGrantReceipt(ctx context.Context, to string, snap entitlement.Snapshot, payment entitlement.PaymentRecord) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	until := snap.EndDate.Format("January 2, 2006")
	amount := formatAmount(payment.Amount)
	link := c.baseURL + "/account/subscription"

	subject := fmt.Sprintf("Your %s premium plan is active", snap.Plan)
	textBody := fmt.Sprintf(
		"Thanks for your payment of %s via %s.\n\nPremium access is active until %s (%d days).\nReference: %s\n\nManage your subscription: %s",
		amount, channelLabel(payment.Channel), until, snap.DaysRemaining, payment.ExternalRef, link,
	)
	htmlBody := fmt.Sprintf(
		`<p>Thanks for your payment of %s via %s.</p><p>Premium access is active until <strong>%s</strong> (%d days).</p><p>Reference: %s</p><p><a href="%s">Manage your subscription</a></p>`,
		amount, channelLabel(payment.Channel), until, snap.DaysRemaining, payment.ExternalRef, link,
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       to,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "grant-receipt",
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

func channelLabel(ch entitlement.Channel) string {
	switch ch {
	case entitlement.ChannelGateway:
		return "card"
	case entitlement.ChannelBankTransfer:
		return "bank transfer"
	default:
		return "complimentary grant"
	}
}
