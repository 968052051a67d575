package retry

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultADNLPolicy(t *testing.T) {
	p := DefaultADNLPolicy()
	cases := []struct {
		code     int32
		attempts int
		ok       bool
	}{
		{228, 3, true},
		{5556, 3, true},
		{651, 4, true},
		{502, 5, true},
		{652, 0, false},
		{-400, 0, false},
	}
	for _, tc := range cases {
		r, ok := p.RuleFor(tc.code, "whatever")
		require.Equal(t, tc.ok, ok, "code %d", tc.code)
		if ok {
			assert.Equal(t, tc.attempts, r.MaxAttempts, "code %d", tc.code)
		}
	}
}

func TestRuleDelay(t *testing.T) {
	r := NewPolicy(Rule{}).Rules()[0]
	assert.Equal(t, 300*time.Millisecond, r.Delay(0))
	assert.Equal(t, 600*time.Millisecond, r.Delay(1))
	assert.Equal(t, 1200*time.Millisecond, r.Delay(2))
	assert.Equal(t, 2400*time.Millisecond, r.Delay(3))
	assert.Equal(t, 3*time.Second, r.Delay(4))
	assert.Equal(t, 3*time.Second, r.Delay(60))
	assert.Equal(t, 300*time.Millisecond, r.Delay(-1))
}

func TestRuleMarkers(t *testing.T) {
	p := NewPolicy(
		Rule{Codes: []int32{1}, Markers: []string{"  Not In DB ", ""}},
		Rule{Markers: []string{"overloaded"}},
	)
	_, ok := p.RuleFor(1, "block is NOT IN DB yet")
	assert.True(t, ok)
	_, ok = p.RuleFor(1, "other")
	assert.False(t, ok)
	r, ok := p.RuleFor(99, "server Overloaded")
	require.True(t, ok)
	assert.Empty(t, r.Codes)
}

func TestNilPolicy(t *testing.T) {
	var p *Policy
	_, ok := p.RuleFor(228, "")
	assert.False(t, ok)
	assert.Nil(t, p.Rules())
}

func TestSleep(t *testing.T) {
	clk := clock.NewMock()
	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), clk, time.Second) }()
	require.Eventually(t, func() bool {
		clk.Add(100 * time.Millisecond)
		select {
		case err := <-done:
			return assert.NoError(t, err)
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, clk, time.Hour), context.Canceled)
}
