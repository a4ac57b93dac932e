// Package domainmap provides domain name parsing and a wildcard-aware
// container for values keyed by domain.
//
// Domain names follow certificate name-matching rules: labels of at most
// 63 bytes containing ASCII letters, digits, hyphens and underscores, no
// leading or trailing hyphen, at most 253 bytes total (at most 127
// labels). Internationalized labels are encoded to their ASCII form. A
// wildcard ("*") may appear only as the entire leftmost label and matches
// exactly one label; a bare "*" is invalid.
package domainmap

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

const (
	maxDomainLen = 253
	maxLabelLen  = 63
)

// Errors returned by Reference and Presented.
var (
	ErrEmpty        = errors.New("domain has no non-wildcard labels")
	ErrTooLong      = errors.New("domain exceeds 253 characters")
	ErrLabelEmpty   = errors.New("domain label is empty")
	ErrLabelTooLong = errors.New("domain label exceeds 63 characters")
	ErrLabelChar    = errors.New("domain label has invalid character")
	ErrLabelHyphen  = errors.New("domain label starts or ends with a hyphen")
	ErrIdna         = errors.New("internationalized label is invalid")
)

// Underscores are accepted for compatibility, so the strict RFC 1034
// checks are off; hyphen placement is validated here instead, keeping the
// error distinct from IDNA processing failures.
var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.CheckHyphens(false),
)

// Domain is a parsed domain name. Labels are stored in right-to-left
// order ("www.example.com" is stored as ["com", "example", "www"]), in
// lowercase ASCII form, without the wildcard label.
type Domain struct {
	wildcard bool
	labels   []string
}

// Reference parses a reference identifier, the name a client actually
// asked for (an SNI value). The input must already be ASCII and may not
// contain a wildcard. A single trailing dot is accepted.
func Reference(input string) (Domain, error) {
	input = strings.TrimSuffix(input, ".")
	if input == "" {
		return Domain{}, ErrEmpty
	}
	if len(input) > maxDomainLen {
		return Domain{}, ErrTooLong
	}
	parts := strings.Split(input, ".")
	labels := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		label, err := parseACELabel(parts[i])
		if err != nil {
			return Domain{}, err
		}
		labels = append(labels, label)
	}
	return Domain{labels: labels}, nil
}

// Presented parses a presented identifier, the pattern side of a match (a
// configured certificate name). Unicode labels are accepted and encoded to
// ASCII, full-width dot variants count as separators, and a leading "*."
// marks a wildcard.
func Presented(input string) (Domain, error) {
	input = trimTrailingSeparator(input)
	if input == "" {
		return Domain{}, ErrEmpty
	}
	parts := splitLabels(input)
	wildcard := parts[0] == "*"
	if wildcard {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return Domain{}, ErrEmpty
	}
	labels := make([]string, 0, len(parts))
	total := 0
	if wildcard {
		total = len("*.")
	}
	for i := len(parts) - 1; i >= 0; i-- {
		label, err := parseIDNLabel(parts[i])
		if err != nil {
			return Domain{}, err
		}
		labels = append(labels, label)
		total += len(label) + 1
	}
	if total-1 > maxDomainLen {
		return Domain{}, ErrTooLong
	}
	return Domain{wildcard: wildcard, labels: labels}, nil
}

// IsWildcard reports whether the leftmost label is "*".
func (d Domain) IsWildcard() bool {
	return d.wildcard
}

// Labels returns a copy of the labels in right-to-left order, without the
// wildcard label.
func (d Domain) Labels() []string {
	return slices.Clone(d.labels)
}

// Equal reports whether two domains are the same pattern. A wildcard is
// never equal to any of the names it matches.
func (d Domain) Equal(other Domain) bool {
	return d.wildcard == other.wildcard && slices.Equal(d.labels, other.labels)
}

// Matches reports whether the reference domain d is covered by pattern.
// An exact pattern covers only itself; a wildcard pattern covers names
// with exactly one extra label. A wildcard d matches nothing.
func (d Domain) Matches(pattern Domain) bool {
	if d.wildcard {
		return false
	}
	if pattern.wildcard {
		return len(d.labels) == len(pattern.labels)+1 &&
			slices.Equal(d.labels[:len(d.labels)-1], pattern.labels)
	}
	return slices.Equal(d.labels, pattern.labels)
}

// String returns the dotted form, with "*." prepended for wildcards.
// Internationalized labels stay in their ASCII encoded form.
func (d Domain) String() string {
	var b strings.Builder
	if d.wildcard {
		b.WriteString("*.")
	}
	for i := len(d.labels) - 1; i >= 0; i-- {
		b.WriteString(d.labels[i])
		if i > 0 {
			b.WriteByte('.')
		}
	}
	return b.String()
}

func parseACELabel(label string) (string, error) {
	if label == "" {
		return "", ErrLabelEmpty
	}
	if len(label) > maxLabelLen {
		return "", ErrLabelTooLong
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", fmt.Errorf("%w: %q", ErrLabelChar, r)
		}
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return "", ErrLabelHyphen
	}
	return strings.ToLower(label), nil
}

func parseIDNLabel(label string) (string, error) {
	if label == "" {
		return "", ErrLabelEmpty
	}
	encoded, err := idnaProfile.ToASCII(label)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIdna, err)
	}
	return parseACELabel(encoded)
}

// Separators per the WHATWG URL host parser: the ASCII dot plus its
// ideographic and full-width variants.
func isSeparator(r rune) bool {
	switch r {
	case '.', '。', '．', '｡':
		return true
	}
	return false
}

func trimTrailingSeparator(s string) string {
	r, size := utf8.DecodeLastRuneInString(s)
	if size > 0 && isSeparator(r) {
		return s[:len(s)-size]
	}
	return s
}

func splitLabels(s string) []string {
	var parts []string
	start := 0
	for i, r := range s {
		if isSeparator(r) {
			parts = append(parts, s[start:i])
			start = i + utf8.RuneLen(r)
		}
	}
	return append(parts, s[start:])
}
