package portal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/Mfalmeh/skyfi-tadipa-portal/portal/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

var (
	ErrNotFound          = fmt.Errorf("not found")
	ErrConflict          = fmt.Errorf("conflict")
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
	ErrInvalidState      = fmt.Errorf("invalid transaction state")
)

// Repository is the transaction store. In-memory by default; Postgres-backed
// when constructed with a db handle.
type Repository struct {
	mu           sync.RWMutex
	transactions map[string]*models.Transaction

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		transactions: make(map[string]*models.Transaction),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the transactions table when it does not exist yet. No-op
// for the in-memory backend.
func (r *Repository) Migrate(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			state          TEXT NOT NULL,
			phone_number   TEXT NOT NULL,
			carrier        TEXT NOT NULL DEFAULT '',
			amount         BIGINT NOT NULL,
			reference      TEXT NOT NULL DEFAULT '',
			voucher_code   TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

// Create registers a new transaction. The id must be unique for the lifetime
// of the store.
func (r *Repository) Create(tx *models.Transaction) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.transactions[tx.ID]; ok {
			return fmt.Errorf("transaction %s exists: %w", tx.ID, ErrConflict)
		}
		cp := *tx
		r.transactions[tx.ID] = &cp
		return nil
	}

	_, err := r.db.ExecContext(context.Background(), `
		INSERT INTO transactions(transaction_id, state, phone_number, carrier, amount, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tx.ID, tx.State, tx.PhoneNumber, tx.Carrier, tx.Amount, tx.Reference, tx.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s exists: %w", tx.ID, ErrConflict)
	}
	return err
}

// Get returns a copy of the transaction with the given id.
func (r *Repository) Get(id string) (*models.Transaction, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		tx, ok := r.transactions[id]
		if !ok {
			return nil, ErrNotFound
		}
		cp := *tx
		return &cp, nil
	}

	row := r.db.QueryRowContext(context.Background(), `
		SELECT transaction_id, state, phone_number, carrier, amount, reference, COALESCE(voucher_code, ''), created_at
		FROM transactions WHERE transaction_id=$1
	`, id)
	tx := &models.Transaction{}
	var state string
	if err := row.Scan(&tx.ID, &state, &tx.PhoneNumber, &tx.Carrier, &tx.Amount, &tx.Reference, &tx.VoucherCode, &tx.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	tx.State = models.State(state)
	return tx, nil
}

// SetState moves a pending transaction into a terminal state. Transitions
// out of a terminal state are rejected.
func (r *Repository) SetState(id string, state models.State) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		tx, ok := r.transactions[id]
		if !ok {
			return ErrNotFound
		}
		if tx.State.Terminal() {
			return fmt.Errorf("transaction %s is already %s: %w", id, tx.State, ErrInvalidTransition)
		}
		tx.State = state
		return nil
	}

	res, err := r.db.ExecContext(context.Background(), `
		UPDATE transactions SET state=$2, updated_at=now()
		WHERE transaction_id=$1 AND state=$3
	`, id, state, models.StatePending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("transaction %s is already terminal: %w", id, ErrInvalidTransition)
	}
	return nil
}

// AttachVoucher records the issued voucher code. Allowed exactly once, and
// only on a successful transaction.
func (r *Repository) AttachVoucher(id, code string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		tx, ok := r.transactions[id]
		if !ok {
			return ErrNotFound
		}
		if tx.State != models.StateSuccessful {
			return fmt.Errorf("transaction %s is %s, not SUCCESSFUL: %w", id, tx.State, ErrInvalidState)
		}
		if tx.VoucherCode != "" {
			return fmt.Errorf("transaction %s already has a voucher: %w", id, ErrInvalidState)
		}
		tx.VoucherCode = code
		return nil
	}

	res, err := r.db.ExecContext(context.Background(), `
		UPDATE transactions SET voucher_code=$2, updated_at=now()
		WHERE transaction_id=$1 AND state=$3 AND voucher_code IS NULL
	`, id, code, models.StateSuccessful)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("transaction %s cannot take a voucher: %w", id, ErrInvalidState)
	}
	return nil
}

// Ping returns DB readiness.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
