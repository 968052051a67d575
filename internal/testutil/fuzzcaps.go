// Package testutil bounds fuzz inputs for the decoders that read untrusted lite-server answers.
package testutil

import (
	"testing"
	"time"
)

const (
	DefaultMaxFuzzBytes = 1 << 16
	DefaultFuzzTimeout  = 200 * time.Millisecond
)

func CapBytes(b []byte, max int) []byte {
	if max <= 0 || len(b) <= max {
		return b
	}
	return b[:max]
}

// WithTimeout fails t when fn runs longer than d, catching decoders that loop on crafted input.
func WithTimeout(t testing.TB, d time.Duration, fn func()) {
	t.Helper()
	if d <= 0 {
		d = DefaultFuzzTimeout
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		t.Fatalf("decoder did not return within %s", d)
	}
}

// FuzzDecoder seeds f and runs decode on every input, capped and under the default timeout.
func FuzzDecoder(f *testing.F, seeds [][]byte, decode func(t *testing.T, data []byte)) {
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		data = CapBytes(data, DefaultMaxFuzzBytes)
		WithTimeout(t, DefaultFuzzTimeout, func() { decode(t, data) })
	})
}
