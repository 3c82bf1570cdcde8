// Package vouchercode mints local voucher codes. Used as the fallback when
// the voucher provider cannot be reached after a settled payment, so the
// payer is never left with money taken and nothing issued.
package vouchercode

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	prefixStandard = "STD"
	prefixPremium  = "PREM"

	// Payments at or above this amount (UGX) get a premium-tier code.
	premiumThreshold = 5000

	suffixLen = 4
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Generate returns an amount-tiered voucher code, e.g. "STD481736K3ZQ".
func Generate(amount int64, now time.Time) (string, error) {
	prefix := prefixStandard
	if amount >= premiumThreshold {
		prefix = prefixPremium
	}

	stamp := fmt.Sprintf("%06d", now.UnixMilli()%1_000_000)

	suffix, err := randomChars(suffixLen)
	if err != nil {
		return "", fmt.Errorf("voucher suffix: %w", err)
	}

	return prefix + stamp + suffix, nil
}

// randomChars draws uniformly from the alphabet using rejection sampling to
// avoid modulo bias.
func randomChars(count int) (string, error) {
	const threshold = 252 // 256 - (256 % 36)

	out := make([]byte, 0, count)
	buf := make([]byte, 16)
	for len(out) < count {
		n, err := rand.Read(buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n && len(out) < count; i++ {
			if buf[i] < threshold {
				out = append(out, alphabet[int(buf[i])%len(alphabet)])
			}
		}
	}
	return string(out), nil
}
