package portal

import (
	"time"

	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/ironwifi"
	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/momo"
	"github.com/Mfalmeh/skyfi-tadipa-portal/internal/sms"
)

// Config is the configuration for the portal application.
type Config struct {
	HTTPAddr string

	// RepoBackend selects the transaction store: "mem" or "pg".
	RepoBackend string
	// DatabaseURL is the Postgres DSN, required for the pg backend.
	DatabaseURL string

	// VoucherProfile is the voucher type issued when the caller does not
	// name one (e.g. "student_1gb").
	VoucherProfile string

	PollInterval    time.Duration
	PollMaxAttempts int

	RateLimitWindow time.Duration
	RateLimitMax    int

	Momo     momo.Config
	IronWifi ironwifi.Config
	SMS      sms.Config
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:        "localhost:3000",
		RepoBackend:     "mem",
		VoucherProfile:  "student_1gb",
		PollInterval:    6 * time.Second,
		PollMaxAttempts: 20,
		RateLimitWindow: 5 * time.Minute,
		RateLimitMax:    3,
	}
}
