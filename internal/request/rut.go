package request

import (
	"strconv"
	"strings"
)

// NormalizeRUT strips the national taxpayer number down to its bare
// digits plus verifier: no dots, no hyphen, uppercase K.
func NormalizeRUT(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '.', '-', ' ':
			return -1
		}
		return r
	}, raw)
	return strings.ToUpper(strings.TrimSpace(cleaned))
}

// FormatRUT renders a normalized number in the canonical body-verifier
// form used by the portals.
func FormatRUT(raw string) string {
	rut := NormalizeRUT(raw)
	if len(rut) < 2 {
		return rut
	}
	return rut[:len(rut)-1] + "-" + rut[len(rut)-1:]
}

// ValidRUT checks the modulo-11 verifier digit.
func ValidRUT(raw string) bool {
	rut := NormalizeRUT(raw)
	if len(rut) < 2 {
		return false
	}
	body, verifier := rut[:len(rut)-1], rut[len(rut)-1:]

	factor := 2
	sum := 0
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}

	var want string
	switch rem := 11 - sum%11; rem {
	case 11:
		want = "0"
	case 10:
		want = "K"
	default:
		want = strconv.Itoa(rem)
	}
	return verifier == want
}
