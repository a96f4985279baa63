package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingSub struct{ destroyed int }

func (c *countingSub) Destroy() { c.destroyed++ }

func TestListeners_Replace(t *testing.T) {
	l := NewListeners()
	first := &countingSub{}
	second := &countingSub{}

	l.Replace("d1", "onoff", first)
	l.Replace("d1", "onoff", second)

	assert.Equal(t, 1, first.destroyed, "previous subscription destroyed on replace")
	assert.Equal(t, 0, second.destroyed)
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Has("d1", "onoff"))
}

func TestListeners_DestroyDevice(t *testing.T) {
	l := NewListeners()
	a, b, c := &countingSub{}, &countingSub{}, &countingSub{}
	l.Replace("d1", "onoff", a)
	l.Replace("d1", "dim", b)
	l.Replace("d2", "onoff", c)

	assert.Equal(t, []string{"dim", "onoff"}, l.Capabilities("d1"))

	l.DestroyDevice("d1")
	assert.Equal(t, 1, a.destroyed)
	assert.Equal(t, 1, b.destroyed)
	assert.Equal(t, 0, c.destroyed)
	assert.Empty(t, l.Capabilities("d1"))

	l.Destroy("d2", "onoff")
	assert.Equal(t, 1, c.destroyed)

	l.Replace("d3", "onoff", a)
	l.DestroyAll()
	assert.Equal(t, 2, a.destroyed)
	assert.Equal(t, 0, l.Len())
}
