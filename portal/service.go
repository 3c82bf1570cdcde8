package portal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/phone"
	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/poller"
	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/ratelimit"
	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/validity"
	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/vouchercode"
	"github.com/Mfalmeh/skyfi-tadipa-portal/portal/models"
	"golang.org/x/exp/slog"
)

var ErrValidation = fmt.Errorf("validation failed")

// PaymentGateway submits payment requests and reports their status.
type PaymentGateway interface {
	RequestToPay(ctx context.Context, phoneNumber string, amount int64, externalID string) (string, error)
	Status(ctx context.Context, referenceID string) (poller.Report, error)
}

// VoucherIssuer mints an access voucher for a profile.
type VoucherIssuer interface {
	Issue(ctx context.Context, profile, validFor string) (string, error)
}

// Notifier delivers the voucher code to the payer.
type Notifier interface {
	Send(ctx context.Context, to, message string) error
}

// Service orchestrates the payment flow: validate, rate-limit, request
// payment, poll to resolution, then issue and deliver the voucher. The
// server owns the authoritative poll loop; the status endpoint only reads
// the store, so clients may poll it too.
type Service struct {
	repo     *Repository
	gateway  PaymentGateway
	issuer   VoucherIssuer
	notifier Notifier
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	cfg      *Config

	wg         sync.WaitGroup
	pollCtx    context.Context
	pollCancel context.CancelFunc
}

func NewService(logger *slog.Logger, repo *Repository, gateway PaymentGateway, issuer VoucherIssuer, notifier Notifier, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		repo:       repo,
		gateway:    gateway,
		issuer:     issuer,
		notifier:   notifier,
		limiter:    ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitMax),
		logger:     logger,
		cfg:        cfg,
		pollCtx:    ctx,
		pollCancel: cancel,
	}
}

// Initiate validates the payer's number, applies the rate limit, submits the
// payment request and registers a pending transaction. Validation and
// rate-limit failures reject before any network call. A background poll is
// started for the new transaction; the caller gets the transaction id
// immediately.
func (s *Service) Initiate(ctx context.Context, rawPhone string, amount int64, reference string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", ErrValidation)
	}

	info, err := phone.Validate(rawPhone)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}
	// The payment path is MTN MoMo; an Airtel number cannot settle here.
	if info.Carrier != phone.CarrierMTN {
		return nil, fmt.Errorf("please use an MTN phone number for MTN Mobile Money: %w", ErrValidation)
	}

	if err := s.limiter.Allow(info.Number); err != nil {
		return nil, err
	}

	if reference == "" {
		reference = fmt.Sprintf("TADIPA-%d", time.Now().UnixMilli())
	}

	referenceID, err := s.gateway.RequestToPay(ctx, info.Number, amount, reference)
	if err != nil {
		return nil, fmt.Errorf("requesting payment: %w", err)
	}

	tx := &models.Transaction{
		ID:          referenceID,
		State:       models.StatePending,
		PhoneNumber: info.Number,
		Carrier:     string(info.Carrier),
		Amount:      amount,
		Reference:   reference,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.Create(tx); err != nil {
		return nil, fmt.Errorf("creating transaction: %w", err)
	}

	s.logger.Info("payment initiated",
		slog.String("transaction_id", tx.ID),
		slog.String("carrier", tx.Carrier),
		slog.Int64("amount", amount),
	)

	s.wg.Add(1)
	go s.watch(tx.ID)

	return tx, nil
}

// watch polls one transaction to resolution and runs the post-settlement
// steps on success.
func (s *Service) watch(id string) {
	defer s.wg.Done()

	p := poller.New(s.logger, s.gateway, s.repo, poller.Config{
		Interval:    s.cfg.PollInterval,
		MaxAttempts: s.cfg.PollMaxAttempts,
	})
	res := p.Run(s.pollCtx, id)

	switch res.Outcome {
	case poller.Success:
		s.settle(id, res.Voucher)
	case poller.Failure:
		s.logger.Info("payment declined", slog.String("transaction_id", id), slog.String("reason", res.Reason))
	case poller.Timeout:
		s.logger.Info("payment verification timed out", slog.String("transaction_id", id), slog.Int("attempts", res.Attempts))
	case poller.Canceled:
		s.logger.Info("payment poll canceled", slog.String("transaction_id", id))
	}
}

// settle issues a voucher for a confirmed payment and texts it to the payer.
// Failures past this point never revert the payment state; the transaction
// stays SUCCESSFUL and the gap is left to a support path.
func (s *Service) settle(id, voucherHint string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := s.repo.Get(id)
	if err != nil {
		s.logger.Error("loading settled transaction", slog.String("transaction_id", id), "err", err)
		return
	}

	code := voucherHint
	if code == "" {
		profile := s.cfg.VoucherProfile
		d := validity.ForProfile(profile, 0)
		code, err = s.issuer.Issue(ctx, profile, validity.Label(d))
		if err != nil {
			s.logger.Error("issuing voucher, falling back to local code", slog.String("transaction_id", id), "err", err)
			code, err = vouchercode.Generate(tx.Amount, time.Now())
			if err != nil {
				s.logger.Error("generating fallback voucher", slog.String("transaction_id", id), "err", err)
				return
			}
		}
	}

	if err := s.repo.AttachVoucher(id, code); err != nil {
		s.logger.Error("attaching voucher", slog.String("transaction_id", id), "err", err)
		return
	}

	s.logger.Info("voucher issued", slog.String("transaction_id", id))

	if err := s.notifier.Send(ctx, tx.PhoneNumber, voucherMessage(code)); err != nil {
		s.logger.Error("sending voucher sms", slog.String("transaction_id", id), "err", err)
	}
}

// Status returns the current transaction record for client-driven polling.
func (s *Service) Status(id string) (*models.Transaction, error) {
	return s.repo.Get(id)
}

// GenerateVoucher is the manual issuance path. It requires a successful
// payment and is idempotent: when a voucher is already attached, the
// existing code is returned.
func (s *Service) GenerateVoucher(ctx context.Context, id, profile string) (string, error) {
	tx, err := s.repo.Get(id)
	if err != nil {
		return "", err
	}
	if tx.State != models.StateSuccessful {
		return "", fmt.Errorf("payment not completed: %w", ErrInvalidState)
	}
	if tx.VoucherCode != "" {
		return tx.VoucherCode, nil
	}

	if profile == "" {
		profile = s.cfg.VoucherProfile
	}
	d := validity.ForProfile(profile, 0)
	code, err := s.issuer.Issue(ctx, profile, validity.Label(d))
	if err != nil {
		return "", fmt.Errorf("issuing voucher: %w", err)
	}

	if err := s.repo.AttachVoucher(id, code); err != nil {
		// A concurrent settle may have attached first; serve whatever won.
		if existing, getErr := s.repo.Get(id); getErr == nil && existing.VoucherCode != "" {
			return existing.VoucherCode, nil
		}
		return "", err
	}

	if err := s.notifier.Send(ctx, tx.PhoneNumber, voucherMessage(code)); err != nil {
		s.logger.Error("sending voucher sms", slog.String("transaction_id", id), "err", err)
	}

	return code, nil
}

// SweepRateLimiter drops idle rate-limit windows.
func (s *Service) SweepRateLimiter() {
	s.limiter.Sweep()
}

// Close cancels all background polls and waits for them to stop. A poll
// interrupted mid-tick finishes that tick; only further ticks are
// suppressed.
func (s *Service) Close() {
	s.pollCancel()
	s.wg.Wait()
}

func voucherMessage(code string) string {
	return fmt.Sprintf("Thanks for your payment. Your Tadipa WiFi voucher code is: %s", code)
}
