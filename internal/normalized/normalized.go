// Package normalized canonicalizes vanity paths and validates destination
// URLs before they enter the store.
package normalized

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/koltyakov/relink/internal/id"
)

// Errors returned by Vanity and ParseLink.
var (
	ErrVanityEmpty = errors.New("vanity path is empty after normalization")
	ErrVanityDigit = errors.New("vanity path must not start with a digit")
	ErrLinkInvalid = errors.New("link is not a valid absolute URL")
	ErrLinkScheme  = errors.New("link scheme must be http or https")
	ErrLinkHost    = errors.New("link has no host")
	ErrLinkUser    = errors.New("link must not contain credentials")
)

// Normalize canonicalizes free text for use as a vanity path: Unicode NFKC,
// whitespace and control characters stripped, lowercased. Store keys and
// request paths go through the same mapping so that visually equivalent
// spellings resolve to the same alias.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

// Vanity normalizes s and validates it as a storable vanity path. Paths
// starting with a decimal digit are reserved for the ID namespace.
func Vanity(s string) (string, error) {
	v := Normalize(s)
	if v == "" {
		return "", ErrVanityEmpty
	}
	if id.Candidate(v) {
		return "", ErrVanityDigit
	}
	return v, nil
}

// Subject maps a link reference to its canonical stored form: the
// canonical ID string for ID-shaped input, the normalized path for
// anything else. Statistics are keyed by this form.
func Subject(s string) (string, error) {
	if id.Candidate(s) {
		v, err := id.Parse(s)
		if err != nil {
			return "", err
		}
		return v.String(), nil
	}
	return Normalize(s), nil
}

// ParseLink validates a redirect destination. Only absolute http and https
// URLs with a host and without userinfo are accepted. The returned string
// is the parsed URL re-serialized, which is what the store keeps.
func ParseLink(s string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLinkInvalid, err)
	}
	if !u.IsAbs() {
		return "", ErrLinkInvalid
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrLinkScheme
	}
	if u.Host == "" {
		return "", ErrLinkHost
	}
	if u.User != nil {
		return "", ErrLinkUser
	}
	return u.String(), nil
}
