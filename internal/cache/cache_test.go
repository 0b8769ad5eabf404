// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(0)
	c.Set("shows:loc-1", []int{1, 2, 3}, time.Minute)

	v, ok := c.Get("shows:loc-1")
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(0)
	c.Set("k", "v", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache(0)
	c.Set("k", "v", time.Minute)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}
