package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLock_Expired(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	l := &Lock{ExpiresAt: now}

	assert.False(t, l.Expired(now.Add(-time.Second)))
	assert.True(t, l.Expired(now), "the lease lapses exactly at its expiry instant")
	assert.True(t, l.Expired(now.Add(time.Second)))
}

func TestLock_HeldBy(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	l := &Lock{HolderID: "u1", ExpiresAt: now.Add(time.Minute)}

	assert.True(t, l.HeldBy("u1", now))
	assert.False(t, l.HeldBy("u2", now))
	assert.False(t, l.HeldBy("u1", now.Add(2*time.Minute)), "an expired lease is not held by anyone")
}
