package policy

import "regexp"

// piiPatterns are the built-in redaction passes applied to user content
// after the configurable rules run. Deliberately naive: false positives are
// acceptable, leaking PII upstream is not.
var piiPatterns = []*regexp.Regexp{
	// email
	regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`),
	// phone; leading boundary keeps it off the tail of longer digit runs
	regexp.MustCompile(`\+?\b\d{1,3}[-.\s]?\(?\d{2,3}\)?[-.\s]?\d{3,4}[-.\s]?\d{4}\b`),
	// credit card, anchored on Visa/Mastercard/Amex/Discover IIN prefixes so
	// timestamps and long ids pass through
	regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6(?:011|5\d{2}))(?:[ -]?\d){11,12}\b`),
	// SSN (US)
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// street address: number + street name + suffix
	regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Z][\w\s]{1,30}\s+(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|way)\b`),
}

// RedactPII replaces personally identifying spans with the placeholder and
// reports whether anything changed.
func RedactPII(text string) (string, bool) {
	changed := false
	for _, re := range piiPatterns {
		next := re.ReplaceAllString(text, Placeholder)
		if next != text {
			changed = true
			text = next
		}
	}
	return text, changed
}
