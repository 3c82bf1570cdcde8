// Package sms delivers text messages through the Africa's Talking
// messaging API.
package sms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.africastalking.com"

type Config struct {
	BaseURL  string
	Username string
	APIKey   string
	Timeout  time.Duration
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
			SetTimeout(cfg.Timeout),
		cfg: cfg,
	}
}

type sendResponse struct {
	SMSMessageData struct {
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send delivers message to the given international-format number. The API
// wants a leading plus on the recipient.
func (c *Client) Send(ctx context.Context, to, message string) error {
	var ok sendResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apiKey", c.cfg.APIKey).
		SetFormData(map[string]string{
			"username": c.cfg.Username,
			"to":       "+" + strings.TrimPrefix(to, "+"),
			"message":  message,
		}).
		SetResult(&ok).
		Post("/version1/messaging")
	if err != nil {
		return fmt.Errorf("sending sms: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("sending sms: status %s", resp.Status())
	}

	for _, r := range ok.SMSMessageData.Recipients {
		// 100-102 cover Processed/Sent/Queued.
		if r.StatusCode >= 100 && r.StatusCode <= 102 {
			return nil
		}
	}
	if len(ok.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("sending sms: no recipients accepted")
	}
	return fmt.Errorf("sending sms: delivery rejected: %s", ok.SMSMessageData.Recipients[0].Status)
}
