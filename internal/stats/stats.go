// Package stats defines the statistics model: per-request counters keyed
// by link, type, data and a coarse time bucket.
//
// Statistics are individual counters, not combined per-request records.
// The server may know that 22 requests came from one browser and 19 used
// HTTP/2, but it cannot correlate those with each other. Bucketing times
// to 15-minute windows is part of the same privacy stance.
package stats

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Type tags what a statistic counts. The constant values are the wire
// names used in JSON payloads and store keys.
type Type string

const (
	TypeRequest           Type = "request"
	TypeHostRequest       Type = "host_request"
	TypeSniRequest        Type = "sni_request"
	TypeStatusCode        Type = "status_code"
	TypeHTTPVersion       Type = "http_version"
	TypeTLSVersion        Type = "tls_version"
	TypeTLSCipherSuite    Type = "tls_cipher_suite"
	TypeUserAgent         Type = "user_agent"
	TypeUserAgentMobile   Type = "user_agent_mobile"
	TypeUserAgentPlatform Type = "user_agent_platform"
)

// Types lists every known statistic type.
var Types = []Type{
	TypeRequest,
	TypeHostRequest,
	TypeSniRequest,
	TypeStatusCode,
	TypeHTTPVersion,
	TypeTLSVersion,
	TypeTLSCipherSuite,
	TypeUserAgent,
	TypeUserAgentMobile,
	TypeUserAgentPlatform,
}

// Valid reports whether t is a known statistic type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// The statistics epoch. Collection times are stored as whole 15-minute
// windows since this instant, never as precise timestamps.
var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

const window = 15 * time.Minute

// ErrBeforeEpoch is returned for instants before the statistics epoch.
var ErrBeforeEpoch = errors.New("time precedes the statistics epoch")

// Time is a coarse collection time: the number of complete 15-minute
// windows since 2000-01-01T00:00:00Z.
type Time uint32

// Now returns the current time bucket.
func Now() Time {
	t, _ := At(time.Now())
	return t
}

// At converts an instant into its time bucket.
func At(t time.Time) (Time, error) {
	d := t.Sub(epoch)
	if d < 0 {
		return 0, ErrBeforeEpoch
	}
	return Time(d / window), nil
}

// ParseTime accepts any RFC 3339 instant and returns the bucket
// containing it.
func ParseTime(s string) (Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return At(t)
}

// Time returns the start of the window.
func (t Time) Time() time.Time {
	return epoch.Add(time.Duration(t) * window)
}

// String returns the window start in RFC 3339 form.
func (t Time) String() string {
	return t.Time().Format(time.RFC3339)
}

// MarshalText implements encoding.TextMarshaler; buckets serialize as the
// RFC 3339 window start.
func (t Time) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Time) UnmarshalText(text []byte) error {
	parsed, err := ParseTime(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Statistic is the key of one counter: which link, what is being counted,
// the counted value, and when.
type Statistic struct {
	// Link is the canonical ID string or the normalized vanity path.
	Link string `json:"link"`
	Type Type   `json:"type"`
	Data string `json:"data"`
	Time Time   `json:"time"`
}

// Value is a statistic counter. A stored value is never zero; increments
// saturate instead of wrapping.
type Value uint64

// Increment returns the next value up, saturating at the maximum.
func (v Value) Increment() Value {
	if v == math.MaxUint64 {
		return v
	}
	return v + 1
}

// Description selects statistics by any subset of the key fields. A nil
// field matches every value; the zero Description matches everything.
type Description struct {
	Link *string `json:"link,omitempty"`
	Type *Type   `json:"type,omitempty"`
	Data *string `json:"data,omitempty"`
	Time *Time   `json:"time,omitempty"`
}

// Matches reports whether the statistic is selected by this description.
func (d Description) Matches(s Statistic) bool {
	if d.Link != nil && *d.Link != s.Link {
		return false
	}
	if d.Type != nil && *d.Type != s.Type {
		return false
	}
	if d.Data != nil && *d.Data != s.Data {
		return false
	}
	if d.Time != nil && *d.Time != s.Time {
		return false
	}
	return true
}

// Categories switches groups of statistic types on or off.
type Categories struct {
	// Redirect enables TypeRequest.
	Redirect bool
	// Basic enables TypeHostRequest, TypeSniRequest and TypeStatusCode.
	Basic bool
	// Protocol enables TypeHTTPVersion, TypeTLSVersion and
	// TypeTLSCipherSuite.
	Protocol bool
	// UserAgent enables the three user agent types.
	UserAgent bool
}

// AllCategories enables every statistic type.
var AllCategories = Categories{Redirect: true, Basic: true, Protocol: true, UserAgent: true}

// DefaultCategories returns the default collection set: everything except
// user agent data.
func DefaultCategories() Categories {
	return Categories{Redirect: true, Basic: true, Protocol: true}
}

// Specifies reports whether statistics of the given type are collected.
func (c Categories) Specifies(t Type) bool {
	switch t {
	case TypeRequest:
		return c.Redirect
	case TypeHostRequest, TypeSniRequest, TypeStatusCode:
		return c.Basic
	case TypeHTTPVersion, TypeTLSVersion, TypeTLSCipherSuite:
		return c.Protocol
	case TypeUserAgent, TypeUserAgentMobile, TypeUserAgentPlatform:
		return c.UserAgent
	}
	return false
}

// Names returns the names of the enabled categories.
func (c Categories) Names() []string {
	names := make([]string, 0, 4)
	if c.Redirect {
		names = append(names, "redirect")
	}
	if c.Basic {
		names = append(names, "basic")
	}
	if c.Protocol {
		names = append(names, "protocol")
	}
	if c.UserAgent {
		names = append(names, "user-agent")
	}
	return names
}

// ParseCategories builds a Categories from category names.
func ParseCategories(names []string) (Categories, error) {
	var c Categories
	for _, name := range names {
		switch name {
		case "redirect":
			c.Redirect = true
		case "basic":
			c.Basic = true
		case "protocol":
			c.Protocol = true
		case "user-agent":
			c.UserAgent = true
		default:
			return Categories{}, fmt.Errorf("unknown statistics category %q", name)
		}
	}
	return c, nil
}
