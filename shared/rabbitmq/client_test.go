package rabbitmq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond

	// Multiplier of 2 doubles the wait each attempt
	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, 2.0, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, 2.0, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(base, 2.0, 2))

	// The configured multiplier is honored, not a fixed doubling
	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, 3.0, 0))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(base, 3.0, 1))
	assert.Equal(t, 900*time.Millisecond, backoffDelay(base, 3.0, 2))

	// A multiplier of 1 keeps the delay flat
	assert.Equal(t, base, backoffDelay(base, 1.0, 5))
}
