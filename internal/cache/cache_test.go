package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGetExpire(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(true)
	c.now = func() time.Time { return now }

	etag := c.Set(KeyActiveConfig, []byte(`{"id":1}`), TTLActiveConfig)
	data, got, ok := c.Get(KeyActiveConfig)
	assert.True(t, ok)
	assert.Equal(t, etag, got)
	assert.JSONEq(t, `{"id":1}`, string(data))

	now = now.Add(TTLActiveConfig + time.Second)
	_, _, ok = c.Get(KeyActiveConfig)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Stats()["expired_keys"])
}

func TestCache_Invalidate(t *testing.T) {
	c := New(true)
	c.Set(KeyActiveConfig, []byte("x"), time.Minute)
	c.Invalidate(KeyActiveConfig)
	_, _, ok := c.Get(KeyActiveConfig)
	assert.False(t, ok)
}

func TestCache_Disabled(t *testing.T) {
	c := New(false)
	etag := c.Set("k", []byte("x"), time.Minute)
	assert.Equal(t, ComputeETag([]byte("x")), etag)
	_, _, ok := c.Get("k")
	assert.False(t, ok)
}

func TestETag(t *testing.T) {
	a := ComputeETag([]byte("a"))
	assert.Equal(t, a, ComputeETag([]byte("a")))
	assert.NotEqual(t, a, ComputeETag([]byte("b")))
	assert.Regexp(t, `^W/"[0-9a-f]{16}"$`, a)

	assert.True(t, CheckETagMatch(a, a))
	assert.True(t, CheckETagMatch("*", a))
	assert.False(t, CheckETagMatch("", a))
	assert.False(t, CheckETagMatch(`W/"other"`, a))
}
