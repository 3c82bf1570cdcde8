// Package momo is a client for the MTN MoMo collection API: credential
// exchange, request-to-pay submission and status checks.
package momo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/poller"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type Config struct {
	BaseURL           string
	APIUser           string
	APIKey            string
	SubscriptionKey   string
	TargetEnvironment string
	Currency          string
	PayerMessage      string
	PayeeNote         string
	Timeout           time.Duration
}

type Client struct {
	http *resty.Client
	cfg  Config

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(cfg Config) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "UGX"
	}
	if cfg.PayerMessage == "" {
		cfg.PayerMessage = "Payment for WiFi voucher"
	}
	if cfg.PayeeNote == "" {
		cfg.PayeeNote = "Tadipa WiFi"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout),
		cfg: cfg,
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken returns a collection API bearer token, fetching a fresh one
// only when the cached token is within a minute of expiry.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var ok tokenResponse
	var bad apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.APIUser, c.cfg.APIKey).
		SetHeader("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey).
		SetResult(&ok).
		SetError(&bad).
		Post("/collection/token/")
	if err != nil {
		return "", fmt.Errorf("momo token request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("momo token request: status %s: %s", resp.Status(), bad.Message)
	}
	if ok.AccessToken == "" {
		return "", fmt.Errorf("momo token request: empty access_token")
	}

	ttl := time.Duration(ok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.token = ok.AccessToken
	c.tokenExpiry = time.Now().Add(ttl - time.Minute)

	return c.token, nil
}

type payRequest struct {
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ExternalID   string `json:"externalId"`
	Payer        payer  `json:"payer"`
	PayerMessage string `json:"payerMessage"`
	PayeeNote    string `json:"payeeNote"`
}

type payer struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

// RequestToPay submits a payment request to the payer's phone and returns
// the reference id under which the provider tracks it. The reference id is
// generated client-side, as the API requires.
func (c *Client) RequestToPay(ctx context.Context, phoneNumber string, amount int64, externalID string) (string, error) {
	referenceID := uuid.New().String()

	token, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	var bad apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Reference-Id", referenceID).
		SetHeader("X-Target-Environment", c.cfg.TargetEnvironment).
		SetHeader("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey).
		SetBody(payRequest{
			Amount:       strconv.FormatInt(amount, 10),
			Currency:     c.cfg.Currency,
			ExternalID:   externalID,
			Payer:        payer{PartyIDType: "MSISDN", PartyID: phoneNumber},
			PayerMessage: c.cfg.PayerMessage,
			PayeeNote:    c.cfg.PayeeNote,
		}).
		SetError(&bad).
		Post("/collection/v1_0/requesttopay")
	if err != nil {
		return "", fmt.Errorf("momo requesttopay: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("momo requesttopay: status %s: %s", resp.Status(), bad.Message)
	}

	return referenceID, nil
}

type statusResponse struct {
	Status                 string          `json:"status"`
	FinancialTransactionID string          `json:"financialTransactionId"`
	Reason                 json.RawMessage `json:"reason"`
}

// The API returns reason either as a bare string or as {code, message}.
func (s statusResponse) reason() string {
	if len(s.Reason) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(s.Reason, &str); err == nil {
		return str
	}
	var obj apiError
	if err := json.Unmarshal(s.Reason, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Code
	}
	return string(s.Reason)
}

// Status reports the provider's current status for a reference id, in the
// provider's vocabulary. Implements poller.Source.
func (c *Client) Status(ctx context.Context, referenceID string) (poller.Report, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return poller.Report{}, err
	}

	var ok statusResponse
	var bad apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Target-Environment", c.cfg.TargetEnvironment).
		SetHeader("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey).
		SetResult(&ok).
		SetError(&bad).
		Get("/collection/v1_0/requesttopay/" + referenceID)
	if err != nil {
		return poller.Report{}, fmt.Errorf("momo status: %w", err)
	}
	if resp.IsError() {
		return poller.Report{}, fmt.Errorf("momo status: status %s: %s", resp.Status(), bad.Message)
	}

	return poller.Report{Status: ok.Status, Reason: ok.reason()}, nil
}
