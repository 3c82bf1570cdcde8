// Package poller drives a pending payment transaction to a terminal state by
// repeatedly querying the payment provider until it reports success or
// failure, or the attempt budget runs out.
package poller

import (
	"context"
	"time"

	"github.com/Mfalmeh/skyfi-tadipa-portal/portal/models"
	"golang.org/x/exp/slog"
)

// Outcome is the terminal result of a poll run.
type Outcome int

const (
	// Success means the provider confirmed the payment.
	Success Outcome = iota
	// Failure means the provider declined or cancelled the payment.
	Failure
	// Timeout means the attempt budget ran out while the payment was still
	// pending. Distinct from Failure: "we gave up waiting" is not
	// "provider said no".
	Timeout
	// Canceled means the caller abandoned the poll. No state was written.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	case Canceled:
		return "canceled"
	}
	return "unknown"
}

// Report is one provider status observation, in the provider's own
// vocabulary. Voucher carries an upstream-provided voucher hint when the
// provider bundles one with a successful status.
type Report struct {
	Status  string
	Reason  string
	Voucher string
}

// Source reports the provider's current status for a payment reference.
type Source interface {
	Status(ctx context.Context, referenceID string) (Report, error)
}

// Store receives the terminal state transition for a resolved transaction.
type Store interface {
	SetState(id string, state models.State) error
}

// Result is what a completed poll run resolved to.
type Result struct {
	Outcome  Outcome
	State    models.State
	Voucher  string
	Reason   string
	Attempts int
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		Interval:    6 * time.Second,
		MaxAttempts: 20,
	}
}

// Poller runs the polling state machine for a single transaction at a time.
// It is stateless between runs and safe to share across transactions.
type Poller struct {
	source Source
	store  Store
	cfg    Config
	logger *slog.Logger

	// sleep waits between ticks; replaced in tests to avoid wall-clock
	// delays. Returns the context error when the wait is interrupted.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(logger *slog.Logger, source Source, store Store, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}

	return &Poller{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "poller")),
		sleep:  sleepContext,
	}
}

// Run polls the source for referenceID until it resolves. Exactly one status
// query is outstanding at a time; the next tick is only scheduled after the
// previous one completes. A terminal provider signal on the final allowed
// attempt still resolves as success/failure, not timeout. Transient source
// errors are non-terminal unless they land on the final attempt.
//
// Cancelling ctx stops further ticks and returns Canceled without touching
// any state already persisted.
func (p *Poller) Run(ctx context.Context, referenceID string) Result {
	logger := p.logger.With(slog.String("reference_id", referenceID))

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return Result{Outcome: Canceled, Attempts: attempt - 1}
		}

		report, err := p.source.Status(ctx, referenceID)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Outcome: Canceled, Attempts: attempt}
			}
			logger.Warn("status check failed", slog.Int("attempt", attempt), "err", err)
		} else {
			switch state := models.NormalizeProviderStatus(report.Status); state {
			case models.StateSuccessful:
				p.transition(logger, referenceID, state)
				return Result{Outcome: Success, State: state, Voucher: report.Voucher, Attempts: attempt}
			case models.StateFailed:
				p.transition(logger, referenceID, state)
				return Result{Outcome: Failure, State: state, Reason: report.Reason, Attempts: attempt}
			}
			logger.Debug("still pending", slog.Int("attempt", attempt), slog.String("status", report.Status))
		}

		if attempt >= p.cfg.MaxAttempts {
			p.transition(logger, referenceID, models.StateTimedOut)
			return Result{Outcome: Timeout, State: models.StateTimedOut, Attempts: attempt}
		}

		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			return Result{Outcome: Canceled, Attempts: attempt}
		}
	}
}

func (p *Poller) transition(logger *slog.Logger, referenceID string, state models.State) {
	if err := p.store.SetState(referenceID, state); err != nil {
		logger.Error("recording terminal state", slog.String("state", string(state)), "err", err)
		return
	}
	logger.Info("transaction resolved", slog.String("state", string(state)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
