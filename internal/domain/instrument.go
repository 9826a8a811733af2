package domain

import (
	"regexp"
	"strings"
)

var instrumentRegex = regexp.MustCompile(`^[A-Z0-9]{2,12}-[A-Z0-9]{2,12}$`)

// NormalizeInstrument upper-cases and trims an instrument symbol such as
// "btc-usd".
func NormalizeInstrument(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidInstrument reports whether s looks like BASE-QUOTE (e.g. BTC-USD).
func ValidInstrument(s string) bool {
	return instrumentRegex.MatchString(s)
}
