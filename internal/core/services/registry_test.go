package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityMap(t *testing.T) {
	m := newEntityMap[string, int]()

	assert.True(t, m.add("a", 1))
	assert.False(t, m.add("a", 2), "duplicate ids are rejected")
	assert.True(t, m.add("b", 2))
	assert.Equal(t, 2, m.len())

	v, ok := m.find("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = m.remove("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = m.remove("a")
	assert.False(t, ok, "removal is idempotent")

	_, ok = m.find("missing")
	assert.False(t, ok)

	assert.ElementsMatch(t, []int{2}, m.drain())
	assert.Equal(t, 0, m.len())
}
