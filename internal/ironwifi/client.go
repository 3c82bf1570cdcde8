// Package ironwifi is a minimal client for the IronWifi voucher API.
package ironwifi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.ironwifi.com/v1"

type Config struct {
	BaseURL    string
	APIKey     string
	LocationID string
	Timeout    time.Duration
}

type Client struct {
	http *resty.Client
	cfg  Config
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetAuthToken(cfg.APIKey),
		cfg: cfg,
	}
}

type voucherRequest struct {
	LocationID string `json:"location_id"`
	ValidFor   string `json:"valid_for"`
	Count      int    `json:"count"`
	Notes      string `json:"notes"`
	Profile    string `json:"profile"`
}

type voucher struct {
	Code string `json:"code"`
}

type apiError struct {
	Message string `json:"message"`
}

// Issue mints one access voucher for the given profile and returns its code.
// validFor is the human-readable validity the API expects, e.g. "1 day".
func (c *Client) Issue(ctx context.Context, profile, validFor string) (string, error) {
	var ok []voucher
	var bad apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(voucherRequest{
			LocationID: c.cfg.LocationID,
			ValidFor:   validFor,
			Count:      1,
			Notes:      "MTN payment via Tadipa",
			Profile:    profile,
		}).
		SetResult(&ok).
		SetError(&bad).
		Post("/vouchers")
	if err != nil {
		return "", fmt.Errorf("ironwifi vouchers: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ironwifi vouchers: status %s: %s", resp.Status(), bad.Message)
	}
	if len(ok) == 0 || ok[0].Code == "" {
		return "", fmt.Errorf("ironwifi vouchers: response contained no voucher code")
	}

	return ok[0].Code, nil
}
