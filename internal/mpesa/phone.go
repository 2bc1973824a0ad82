package mpesa

import (
	"strings"

	"github.com/Omwansam/furniture-backend/internal/errs"
)

const countryPrefix = "254"

// SanitizePhone canonicalizes a Kenyan mobile number to the
// country-prefixed, digits-only form the provider expects
// (2547XXXXXXXX). Accepts "07...", "+254..." and "254..." inputs with
// incidental spaces or dashes.
func SanitizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range strings.TrimPrefix(strings.TrimSpace(raw), "+") {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-':
			// separators tolerated
		default:
			return "", errs.ErrInvalidPhone
		}
	}

	phone := digits.String()
	switch {
	case strings.HasPrefix(phone, "0") && len(phone) == 10:
		phone = countryPrefix + phone[1:]
	case strings.HasPrefix(phone, countryPrefix) && len(phone) == 12:
		// already canonical
	default:
		return "", errs.ErrInvalidPhone
	}

	// only mobile ranges (2547xx, 2541xx) can receive an STK prompt
	if phone[3] != '7' && phone[3] != '1' {
		return "", errs.ErrInvalidPhone
	}
	return phone, nil
}
