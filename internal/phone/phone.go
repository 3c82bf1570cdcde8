package phone

import (
	"fmt"
	"regexp"
	"strings"
)

// Carrier identifies the mobile network that owns a number's prefix.
type Carrier string

const (
	CarrierMTN    Carrier = "MTN"
	CarrierAirtel Carrier = "Airtel"
)

var ErrUnknownCarrier = fmt.Errorf("not a recognized MTN or Airtel Uganda number")

const countryCode = "256"

var (
	nonDigits = regexp.MustCompile(`\D`)

	// Carrier prefix sets are disjoint.
	mtnPattern    = regexp.MustCompile(`^256(77|78|76|39)\d{7}$`)
	airtelPattern = regexp.MustCompile(`^256(70|75|74|20)\d{7}$`)
)

// Info is a validated phone number in canonical international form.
type Info struct {
	// Number is digits only, e.g. "256772123456". It is the identity used
	// for rate limiting, the payment request and SMS delivery.
	Number  string
	Carrier Carrier
	// Formatted is the display form, e.g. "+256 772 123 456".
	Formatted string
}

// Validate normalizes a raw Uganda phone number to international form and
// classifies its carrier. Local trunk-prefix variants of the same number
// ("0772123456", "772123456", "256772123456") all normalize identically.
func Validate(raw string) (Info, error) {
	cleaned := nonDigits.ReplaceAllString(raw, "")

	number := cleaned
	switch {
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		number = countryCode + cleaned[1:]
	case len(cleaned) == 9:
		number = countryCode + cleaned
	}

	var carrier Carrier
	switch {
	case mtnPattern.MatchString(number):
		carrier = CarrierMTN
	case airtelPattern.MatchString(number):
		carrier = CarrierAirtel
	default:
		return Info{}, ErrUnknownCarrier
	}

	return Info{Number: number, Carrier: carrier, Formatted: format(number)}, nil
}

func format(number string) string {
	return fmt.Sprintf("+%s %s %s %s", number[:3], number[3:6], number[6:9], number[9:])
}
