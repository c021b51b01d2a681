package policy

import (
	"regexp"
	"strings"
)

// Kind names one class of personal data.
type Kind string

const (
	KindEmail Kind = "email"
	KindIBAN  Kind = "iban"
	KindCard  Kind = "card"
	KindPhone Kind = "phone"
)

type rule struct {
	kind    Kind
	pattern *regexp.Regexp
	mask    string
	// accept filters candidate matches; nil accepts all of them.
	accept func(string) bool
}

// Rules run in order: cards and IBANs before phones so that long digit runs
// are not classified as phone numbers.
var rules = []rule{
	{kind: KindEmail, pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), mask: "[REDACTED_EMAIL]"},
	{kind: KindIBAN, pattern: regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){3,7}(?: ?[A-Z0-9]{1,3})?\b`), mask: "[REDACTED_IBAN]"},
	{kind: KindCard, pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), mask: "[REDACTED_CARD]", accept: luhnValid},
	{kind: KindPhone, pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), mask: "[REDACTED_PHONE]"},
}

// RedactPII masks personal data before text is stored as a memory. It returns
// the masked text and the kinds that were found, in rule order.
func RedactPII(input string) (string, []Kind) {
	out := input
	var found []Kind
	for _, r := range rules {
		hit := false
		out = r.pattern.ReplaceAllStringFunc(out, func(m string) string {
			if r.accept != nil && !r.accept(m) {
				return m
			}
			hit = true
			return r.mask
		})
		if hit {
			found = append(found, r.kind)
		}
	}
	return out, found
}

func luhnValid(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
