package portal

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/ratelimit"
	"github.com/go-chi/chi/v5"
)

// API is the HTTP surface of the payment bridge.
type API struct {
	service *Service
}

func NewAPI(service *Service) *API {
	return &API{
		service: service,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", a.initiatePayment)
		r.Get("/{transactionID}/status", a.getStatus)
	})
	r.Post("/vouchers", a.generateVoucher)
}

type initiateRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (a *API) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := a.service.Initiate(r.Context(), req.PhoneNumber, req.Amount, req.Reference)
	if err != nil {
		var le *ratelimit.LimitError
		switch {
		case errors.Is(err, ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &le):
			writeError(w, http.StatusTooManyRequests, "too many payment attempts, please wait "+le.RetryAfter.Round(time.Second).String()+" before trying again")
		default:
			writeError(w, http.StatusBadGateway, "failed to initiate payment")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, struct {
		Success       bool   `json:"success"`
		TransactionID string `json:"transactionId"`
	}{true, tx.ID})
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")

	tx, err := a.service.Status(transactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to fetch payment status")
		}
		return
	}

	writeJSON(w, http.StatusOK, struct {
		TransactionID string `json:"transactionId"`
		State         string `json:"state"`
		PhoneNumber   string `json:"phoneNumber"`
	}{tx.ID, string(tx.State), tx.PhoneNumber})
}

type generateVoucherRequest struct {
	TransactionID string `json:"transactionId"`
	VoucherType   string `json:"voucherType,omitempty"`
}

func (a *API) generateVoucher(w http.ResponseWriter, r *http.Request) {
	var req generateVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	code, err := a.service.GenerateVoucher(r.Context(), req.TransactionID, req.VoucherType)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "payment not found")
		case errors.Is(err, ErrInvalidState):
			writeError(w, http.StatusBadRequest, "payment not completed")
		default:
			writeError(w, http.StatusBadGateway, "failed to generate voucher")
		}
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Voucher string `json:"voucher"`
	}{true, code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}
