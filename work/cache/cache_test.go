package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	c := NewCache(100, time.Minute)

	_, ok := c.Get(Key("stream", "a", "1"))
	assert.False(t, ok)

	c.Set(Key("stream", "a", "1"), "https://cdn.example.com/1.mp3")
	v, ok := c.Get(Key("stream", "a", "1"))
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/1.mp3", v)

	c.Invalidate(Key("stream", "a", "1"))
	_, ok = c.Get(Key("stream", "a", "1"))
	assert.False(t, ok)
}

func TestEmptyValuesAreNotCached(t *testing.T) {
	c := NewCache(100, time.Minute)
	c.Set("k", "")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := NewCache(100, 50*time.Millisecond)
	c.Set("k", "v")

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *Cache
	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}
