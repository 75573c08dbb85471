package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenThrottle(t *testing.T) {
	l := NewLimiter(60, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("popup"), "burst request %d", i)
	}
	assert.False(t, l.Allow("popup"), "burst exhausted")
}

func TestClientsAreIndependent(t *testing.T) {
	l := NewLimiter(60, 1)

	assert.True(t, l.Allow("popup"))
	assert.False(t, l.Allow("popup"))
	assert.True(t, l.Allow("sidebar"), "a throttled client does not starve others")
}
