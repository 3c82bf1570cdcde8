package models

import (
	"strings"
	"time"
)

// State is the canonical lifecycle state of a payment transaction.
type State string

const (
	StatePending    State = "PENDING"
	StateSuccessful State = "SUCCESSFUL"
	StateFailed     State = "FAILED"
	StateTimedOut   State = "TIMED_OUT"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateSuccessful, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// NormalizeProviderStatus maps provider status vocabulary onto the canonical
// state enum. Anything unrecognized is treated as still pending.
func NormalizeProviderStatus(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "PAID", "SUCCESSFUL":
		return StateSuccessful
	case "FAILED", "FAILURE", "CANCELLED":
		return StateFailed
	default:
		return StatePending
	}
}

type Transaction struct {
	ID          string
	State       State
	PhoneNumber string
	Carrier     string
	Amount      int64
	Reference   string
	VoucherCode string
	CreatedAt   time.Time
}
