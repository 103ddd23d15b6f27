package discovery

import (
	"regexp"
	"strconv"
	"strings"
)

var priceTextRe = regexp.MustCompile(`(?:[$€£]|USD|EUR|GBP)\s*([\d,]+(?:\.\d{1,2})?)`)

// parseDecimalCents converts a decimal price string ("29.99", "1,299.00")
// to integer cents. Returns 0 when unparseable.
func parseDecimalCents(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return int64(v*100 + 0.5)
}

// parseMinorUnits converts a minor-unit price string ("2999" with
// minorUnit 2) to cents. WooCommerce's Store API reports prices this way.
func parseMinorUnits(s string, minorUnit int) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	// Rescale to cents when the currency does not use 2 minor digits.
	switch {
	case minorUnit == 2 || minorUnit <= 0:
		return v
	case minorUnit > 2:
		for i := 0; i < minorUnit-2; i++ {
			v /= 10
		}
		return v
	default: // minorUnit == 1
		return v * 10
	}
}

// extractPriceCents pulls the first currency-prefixed amount out of free
// text ("$59.99 – $299.00" yields 5999).
func extractPriceCents(text string) int64 {
	m := priceTextRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	return parseDecimalCents(m[1])
}
