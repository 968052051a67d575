// Package retry holds the rule table that decides which server errors are retried and how long to wait.
package retry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"tonlite/internal/liteerr"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 300 * time.Millisecond
	DefaultMaxDelay  = 3 * time.Second
)

// Rule matches a server error by code and/or message markers.
// With both set, both must match. Markers are case-insensitive substrings.
type Rule struct {
	Codes       []int32
	Markers     []string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (r Rule) withDefaults() Rule {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultAttempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = DefaultBaseDelay
	}
	if r.MaxDelay < r.BaseDelay {
		r.MaxDelay = max(DefaultMaxDelay, r.BaseDelay)
	}
	markers := make([]string, 0, len(r.Markers))
	for _, m := range r.Markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	r.Markers = markers
	return r
}

func (r Rule) Matches(code int32, message string) bool {
	if len(r.Codes) > 0 && !slices.Contains(r.Codes, code) {
		return false
	}
	if len(r.Markers) > 0 {
		msg := strings.ToLower(message)
		if !slices.ContainsFunc(r.Markers, func(m string) bool { return strings.Contains(msg, m) }) {
			return false
		}
	}
	return true
}

// Delay is min(base * 2^attempt, max) for a zero-based attempt index.
func (r Rule) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := r.BaseDelay
	for i := 0; i < attempt && d < r.MaxDelay; i++ {
		d *= 2
	}
	return min(d, r.MaxDelay)
}

// Policy is an ordered rule list; the first match wins.
type Policy struct {
	rules []Rule
}

func NewPolicy(rules ...Rule) *Policy {
	p := &Policy{rules: make([]Rule, len(rules))}
	for i, r := range rules {
		p.rules[i] = r.withDefaults()
	}
	return p
}

// DefaultADNLPolicy retries throttling, missing blocks and backend timeouts.
func DefaultADNLPolicy() *Policy {
	return NewPolicy(
		Rule{Codes: []int32{liteerr.CodeRateLimit, liteerr.CodeRateLimitAlt}, MaxAttempts: 3},
		Rule{Codes: []int32{liteerr.CodeBlockNotApplied}, MaxAttempts: 4},
		Rule{Codes: []int32{liteerr.CodeBackendTimeout}, MaxAttempts: 5},
	)
}

// RuleFor returns the first rule matching the error. A nil policy matches nothing.
func (p *Policy) RuleFor(code int32, message string) (Rule, bool) {
	if p == nil {
		return Rule{}, false
	}
	for _, r := range p.rules {
		if r.Matches(code, message) {
			return r, true
		}
	}
	return Rule{}, false
}

func (p *Policy) Rules() []Rule {
	if p == nil {
		return nil
	}
	return slices.Clone(p.rules)
}

func (r Rule) String() string {
	return fmt.Sprintf("codes=%v markers=%v attempts=%d delay=%s..%s", r.Codes, r.Markers, r.MaxAttempts, r.BaseDelay, r.MaxDelay)
}

// Sleep waits d on clk or returns early with ctx's error.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
