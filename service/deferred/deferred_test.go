package deferred

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_SetAndService(t *testing.T) {
	r := NewRegistry()
	var order []string
	a, err := r.Register(func() { order = append(order, "a") })
	assert.NoError(t, err)
	b, err := r.Register(func() { order = append(order, "b") })
	assert.NoError(t, err)

	assert.False(t, r.HasPending())
	assert.False(t, r.Service())

	b.Set()
	a.Set()
	a.Set() // idempotent
	assert.True(t, r.HasPending())
	assert.True(t, a.IsPending())

	assert.True(t, r.Service())
	assert.Equal(t, []string{"a", "b"}, order)
	assert.False(t, r.HasPending())
	assert.False(t, a.IsPending())
}

func TestRegistry_SetDuringServiceRunsNextPass(t *testing.T) {
	r := NewRegistry()
	var calls int
	var c *Call
	c, _ = r.Register(func() {
		calls++
		if calls == 1 {
			c.Set()
		}
	})
	c.Set()

	assert.True(t, r.Service())
	assert.Equal(t, 1, calls)
	assert.True(t, r.HasPending())
	assert.True(t, r.Service())
	assert.Equal(t, 2, calls)
	assert.False(t, r.HasPending())
}

func TestRegistry_Capacity(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxCalls; i++ {
		_, err := r.Register(func() {})
		assert.NoError(t, err)
	}
	_, err := r.Register(func() {})
	assert.Error(t, err)
}
