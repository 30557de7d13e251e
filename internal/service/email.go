package service

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail canonicalizes an address for lookup: trim, lower-case and
// NFKC-fold so full-width input from the payment form matches stored rows.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	email = strings.ToLower(email)
	return norm.NFKC.String(email)
}
