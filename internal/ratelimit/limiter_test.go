package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterRejectsAfterCapacity(t *testing.T) {
	l := NewLimiter(60, time.Minute)
	var w Window
	now := time.Now()

	for i := 0; i < 60; i++ {
		assert.Truef(t, l.Allow(&w, now.Add(time.Duration(i)*time.Millisecond)), "event %d", i+1)
	}
	assert.False(t, l.Allow(&w, now.Add(time.Second)))
	assert.False(t, l.Allow(&w, now.Add(59*time.Second)))
}

func TestLimiterResetsLazily(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	var w Window
	now := time.Now()

	assert.True(t, l.Allow(&w, now))
	assert.True(t, l.Allow(&w, now))
	assert.False(t, l.Allow(&w, now))

	assert.False(t, l.Allow(&w, now.Add(time.Minute)), "boundary itself is still inside the window")
	assert.True(t, l.Allow(&w, now.Add(time.Minute+time.Millisecond)))
	assert.Equal(t, 1, w.Count())
}

func TestLimiterWindowsAreIndependent(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	var a, b Window
	now := time.Now()

	assert.True(t, l.Allow(&a, now))
	assert.False(t, l.Allow(&a, now))
	assert.True(t, l.Allow(&b, now))
}

func TestNewLimiterDefaults(t *testing.T) {
	l := NewLimiter(0, 0)
	assert.Equal(t, 60, l.Capacity())
}
