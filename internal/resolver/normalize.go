package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are corporate-form tokens stripped from the tail of a name
// so "Acme Inc", "Acme Incorporated" and "acme inc" normalize identically.
var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "llc": true, "llp": true, "lp": true,
	"ltd": true, "limited": true, "corp": true, "corporation": true,
	"co": true, "company": true, "plc": true, "gmbh": true, "sa": true,
	"srl": true, "pllc": true, "pc": true,
}

var caseFolder = cases.Fold()

// NormalizeName produces the canonical matching key for an entity name:
// NFKC-normalized, case-folded, punctuation stripped, whitespace collapsed,
// trailing corporate-form suffixes removed.
func NormalizeName(name string) string {
	s := norm.NFKC.String(name)
	s = caseFolder.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&':
			b.WriteString(" and ")
		default:
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// multiPartTLDs are second-level labels that combine with a two-letter
// country TLD to form the effective TLD (e.g. co.uk, com.au).
var multiPartTLDs = map[string]bool{
	"co": true, "com": true, "org": true, "net": true,
	"ac": true, "gov": true, "edu": true,
}

// RootDomain reduces a website URL to its registrable root domain:
// scheme, www prefix, path, port and extra subdomains all stripped.
// Returns "" when no usable domain remains.
func RootDomain(website string) string {
	d := strings.TrimSpace(strings.ToLower(website))
	if d == "" {
		return ""
	}

	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	for _, sep := range []string{"/", "?", "#"} {
		if i := strings.Index(d, sep); i >= 0 {
			d = d[:i]
		}
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")

	labels := strings.Split(d, ".")
	if len(labels) < 2 || labels[0] == "" {
		if len(labels) == 1 && labels[0] != "" {
			return ""
		}
		return ""
	}

	// Keep the registrable root: two labels, or three when the TLD is a
	// multi-part country suffix like co.uk.
	keep := 2
	if len(labels) >= 3 && len(labels[len(labels)-1]) == 2 && multiPartTLDs[labels[len(labels)-2]] {
		keep = 3
	}
	if len(labels) > keep {
		labels = labels[len(labels)-keep:]
	}
	return strings.Join(labels, ".")
}
