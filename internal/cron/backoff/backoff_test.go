package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Bound(t *testing.T) {
	p := Default()

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first attempt", attempt: 1, want: 250 * time.Millisecond},
		{name: "second attempt", attempt: 2, want: 500 * time.Millisecond},
		{name: "third attempt", attempt: 3, want: time.Second},
		{name: "fifth attempt", attempt: 5, want: 4 * time.Second},
		{name: "capped at max", attempt: 6, want: 5 * time.Second},
		{name: "far past the cap", attempt: 50, want: 5 * time.Second},
		{name: "zero attempt treated as first", attempt: 0, want: 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Bound(tt.attempt))
		})
	}
}

func TestPolicy_Delay_WithinBound(t *testing.T) {
	p := Default()

	for attempt := 1; attempt <= 10; attempt++ {
		bound := p.Bound(attempt)
		for i := 0; i < 100; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, bound)
		}
	}
}

func TestPolicy_CustomLimits(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 3 * time.Second}

	assert.Equal(t, time.Second, p.Bound(1))
	assert.Equal(t, 2*time.Second, p.Bound(2))
	assert.Equal(t, 3*time.Second, p.Bound(3))
	assert.Equal(t, 3*time.Second, p.Bound(4))
}
