package ratelimit

import (
	"net/http"
	"strings"
	"time"
)

// Scope defines how rate limit keys are determined.
type Scope int

const (
	// ScopeIP keys buckets by client IP address.
	ScopeIP Scope = iota
	// ScopeOrg keys buckets by the organization of the request.
	ScopeOrg
)

// Tier is a named limiter with its scope.
type Tier struct {
	Name    string
	Limiter *Limiter
	Scope   Scope
}

// Rates holds the per-minute budgets of each tier. Zero disables a tier.
type Rates struct {
	ReadPerMinute   int `yaml:"read_per_minute"`
	WritePerMinute  int `yaml:"write_per_minute"`
	SubmitPerMinute int `yaml:"submit_per_minute"`
}

// DefaultRates are used when the configuration sets none.
var DefaultRates = Rates{
	ReadPerMinute:   6000,
	WritePerMinute:  600,
	SubmitPerMinute: 300,
}

// Config holds the limiters of each tier.
type Config struct {
	Read   *Tier
	Write  *Tier
	Submit *Tier
}

func newTier(name string, perMinute int, scope Scope) *Tier {
	if perMinute <= 0 {
		return nil
	}
	return &Tier{
		Name:    name,
		Limiter: NewLimiter(perMinute, time.Minute, max(perMinute/6, 1)),
		Scope:   scope,
	}
}

// NewConfig creates the tiers. Reads are keyed by client IP, writes and
// submissions by organization.
func NewConfig(r Rates) *Config {
	return &Config{
		Read:   newTier("read", r.ReadPerMinute, ScopeIP),
		Write:  newTier("write", r.WritePerMinute, ScopeOrg),
		Submit: newTier("submit", r.SubmitPerMinute, ScopeOrg),
	}
}

// Match returns the tier of a request, or nil when it is not limited.
//
// pattern is the route pattern the request matched, so that submissions can be
// told apart from other writes.
func (c *Config) Match(method, pattern string) *Tier {
	if c == nil {
		return nil
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return c.Read
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		if isSubmit(pattern) {
			return c.Submit
		}
		return c.Write
	default:
		return nil
	}
}

func isSubmit(pattern string) bool {
	return strings.HasSuffix(pattern, "/submit") || strings.HasSuffix(pattern, "/responses")
}

// Close stops all limiter cleanup goroutines.
func (c *Config) Close() {
	if c == nil {
		return
	}
	for _, t := range []*Tier{c.Read, c.Write, c.Submit} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}
