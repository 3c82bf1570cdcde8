package portal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/poller"
	"github.com/Mfalmeh/skyfi-tadipa-portal/portal"
	"github.com/Mfalmeh/skyfi-tadipa-portal/portal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// fakeGateway accepts every pay request and walks a scripted status
// sequence, holding the last entry once the script runs out.
type fakeGateway struct {
	mu          sync.Mutex
	script      []poller.Report
	payErr      error
	payRequests int
	statusCalls int
}

func (g *fakeGateway) RequestToPay(ctx context.Context, phoneNumber string, amount int64, externalID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payErr != nil {
		return "", g.payErr
	}
	g.payRequests++
	return uuid.New().String(), nil
}

func (g *fakeGateway) Status(ctx context.Context, referenceID string) (poller.Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.statusCalls
	g.statusCalls++
	if i >= len(g.script) {
		i = len(g.script) - 1
	}
	return g.script[i], nil
}

func (g *fakeGateway) requests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.payRequests
}

type fakeIssuer struct {
	mu    sync.Mutex
	code  string
	err   error
	calls int
}

func (f *fakeIssuer) Issue(ctx context.Context, profile, validFor string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.code, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	to       string
	messages []string
}

func (f *fakeNotifier) Send(ctx context.Context, to, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = to
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) lastTo() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.to
}

func (f *fakeNotifier) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *portal.Config {
	cfg := portal.DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.PollMaxAttempts = 5
	return cfg
}

// slowPollConfig keeps the background poll idle for the whole test, for
// cases that drive the transaction state by hand.
func slowPollConfig() *portal.Config {
	cfg := portal.DefaultConfig()
	cfg.PollInterval = time.Minute
	cfg.PollMaxAttempts = 20
	return cfg
}

func newTestRouter(t *testing.T, cfg *portal.Config, repo *portal.Repository, gateway *fakeGateway, issuer *fakeIssuer, notifier *fakeNotifier) chi.Router {
	t.Helper()

	service := portal.NewService(testLogger(), repo, gateway, issuer, notifier, cfg)
	t.Cleanup(service.Close)

	router := chi.NewRouter()
	api := portal.NewAPI(service)
	api.AppendRoutes(router)
	return router
}

func initiate(t *testing.T, router chi.Router, phoneNumber string, amount int64) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(map[string]any{"phoneNumber": phoneNumber, "amount": amount})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/payments", bytes.NewBuffer(body))
	router.ServeHTTP(w, req)
	return w
}

func TestInitiatePayment_EndToEnd(t *testing.T) {
	gateway := &fakeGateway{script: []poller.Report{
		{Status: "PENDING"},
		{Status: "PENDING"},
		{Status: "SUCCESSFUL"},
	}}
	issuer := &fakeIssuer{code: "WIFI-123"}
	notifier := &fakeNotifier{}
	repo := portal.NewRepository()
	router := newTestRouter(t, testConfig(), repo, gateway, issuer, notifier)

	w := initiate(t, router, "0772123456", 1000)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Success       bool   `json:"success"`
		TransactionID string `json:"transactionId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.TransactionID)

	// The server-side poll observes SUCCESSFUL on tick 3, issues the
	// voucher and texts the payer.
	require.Eventually(t, func() bool {
		tx, err := repo.Get(resp.TransactionID)
		return err == nil && tx.State == models.StateSuccessful && tx.VoucherCode != ""
	}, 2*time.Second, 5*time.Millisecond)

	tx, err := repo.Get(resp.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "WIFI-123", tx.VoucherCode)
	require.Equal(t, "256772123456", tx.PhoneNumber)

	require.Eventually(t, func() bool { return notifier.sent() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "256772123456", notifier.lastTo())
}

func TestInitiatePayment_AirtelNumberRejectedBeforeGateway(t *testing.T) {
	gateway := &fakeGateway{script: []poller.Report{{Status: "PENDING"}}}
	router := newTestRouter(t, testConfig(), portal.NewRepository(), gateway, &fakeIssuer{code: "X"}, &fakeNotifier{})

	w := initiate(t, router, "0702123456", 1000)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, 0, gateway.requests(), "validation must reject before any gateway call")
}

func TestInitiatePayment_UnknownCarrierRejected(t *testing.T) {
	gateway := &fakeGateway{script: []poller.Report{{Status: "PENDING"}}}
	router := newTestRouter(t, testConfig(), portal.NewRepository(), gateway, &fakeIssuer{code: "X"}, &fakeNotifier{})

	w := initiate(t, router, "0999123456", 1000)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, 0, gateway.requests())
}

func TestInitiatePayment_InvalidAmountRejected(t *testing.T) {
	gateway := &fakeGateway{script: []poller.Report{{Status: "PENDING"}}}
	router := newTestRouter(t, testConfig(), portal.NewRepository(), gateway, &fakeIssuer{code: "X"}, &fakeNotifier{})

	w := initiate(t, router, "0772123456", 0)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, 0, gateway.requests())
}

func TestInitiatePayment_RateLimited(t *testing.T) {
	gateway := &fakeGateway{script: []poller.Report{{Status: "PENDING"}}}
	router := newTestRouter(t, testConfig(), portal.NewRepository(), gateway, &fakeIssuer{code: "X"}, &fakeNotifier{})

	for i := 0; i < 3; i++ {
		w := initiate(t, router, "0772123456", 1000)
		require.Equal(t, http.StatusAccepted, w.Code, "attempt %d", i+1)
	}

	w := initiate(t, router, "0772123456", 1000)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, 3, gateway.requests(), "the limited attempt must not reach the gateway")

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Contains(t, resp.Message, "wait")
}

func TestInitiatePayment_GatewayError(t *testing.T) {
	gateway := &fakeGateway{payErr: fmt.Errorf("momo requesttopay: status 500")}
	repo := portal.NewRepository()
	router := newTestRouter(t, slowPollConfig(), repo, gateway, &fakeIssuer{code: "X"}, &fakeNotifier{})

	w := initiate(t, router, "0772123456", 1000)
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGetStatus(t *testing.T) {
	gateway := &fakeGateway{script: []poller.Report{{Status: "PENDING"}}}
	repo := portal.NewRepository()
	router := newTestRouter(t, slowPollConfig(), repo, gateway, &fakeIssuer{code: "X"}, &fakeNotifier{})

	w := initiate(t, router, "0772123456", 1000)
	require.Equal(t, http.StatusAccepted, w.Code)

	var created struct {
		TransactionID string `json:"transactionId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w2 := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/payments/"+created.TransactionID+"/status", nil)
	router.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)

	var status struct {
		TransactionID string `json:"transactionId"`
		State         string `json:"state"`
		PhoneNumber   string `json:"phoneNumber"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &status))
	require.Equal(t, created.TransactionID, status.TransactionID)
	require.Equal(t, "256772123456", status.PhoneNumber)

	w3 := httptest.NewRecorder()
	req3, _ := http.NewRequest(http.MethodGet, "/payments/no-such-id/status", nil)
	router.ServeHTTP(w3, req3)
	require.Equal(t, http.StatusNotFound, w3.Code)
}

func TestGenerateVoucher(t *testing.T) {
	gateway := &fakeGateway{script: []poller.Report{{Status: "PENDING"}}}
	issuer := &fakeIssuer{code: "WIFI-777"}
	repo := portal.NewRepository()
	router := newTestRouter(t, slowPollConfig(), repo, gateway, issuer, &fakeNotifier{})

	w := initiate(t, router, "0772123456", 1000)
	require.Equal(t, http.StatusAccepted, w.Code)
	var created struct {
		TransactionID string `json:"transactionId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	generate := func(id string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{"transactionId": id})
		rec := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, "/vouchers", bytes.NewBuffer(body))
		router.ServeHTTP(rec, req)
		return rec
	}

	// Payment still pending: no voucher.
	require.Equal(t, http.StatusBadRequest, generate(created.TransactionID).Code)

	require.Equal(t, http.StatusNotFound, generate("no-such-id").Code)

	require.NoError(t, repo.SetState(created.TransactionID, models.StateSuccessful))

	rec := generate(created.TransactionID)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Voucher string `json:"voucher"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "WIFI-777", resp.Voucher)

	// Issuance is at most once: a repeat returns the same code.
	rec2 := generate(created.TransactionID)
	require.Equal(t, http.StatusOK, rec2.Code)
	var resp2 struct {
		Voucher string `json:"voucher"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	require.Equal(t, "WIFI-777", resp2.Voucher)

	issuer.mu.Lock()
	calls := issuer.calls
	issuer.mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestSettle_IssuerDownFallsBackToLocalCode(t *testing.T) {
	gateway := &fakeGateway{script: []poller.Report{{Status: "SUCCESSFUL"}}}
	issuer := &fakeIssuer{err: fmt.Errorf("ironwifi vouchers: status 503")}
	notifier := &fakeNotifier{}
	repo := portal.NewRepository()

	service := portal.NewService(testLogger(), repo, gateway, issuer, notifier, testConfig())
	t.Cleanup(service.Close)

	tx, err := service.Initiate(context.Background(), "0772123456", 6000, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := repo.Get(tx.ID)
		return err == nil && got.VoucherCode != ""
	}, 2*time.Second, 5*time.Millisecond)

	got, err := repo.Get(tx.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateSuccessful, got.State)
	// 6000 UGX is premium tier for locally minted codes.
	require.Contains(t, got.VoucherCode, "PREM")
}
