package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttemptLimiter(t *testing.T) {
	rl := NewAttemptLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("tok"))
	}
	assert.False(t, rl.Allow("tok"))

	// other keys have their own window
	assert.True(t, rl.Allow("other"))
}

func TestAttemptLimiterWindowExpiry(t *testing.T) {
	rl := NewAttemptLimiter(1, 10*time.Millisecond)

	assert.True(t, rl.Allow("tok"))
	assert.False(t, rl.Allow("tok"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, rl.Allow("tok"))
}
