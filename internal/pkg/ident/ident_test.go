package ident

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	id := New("ORD", 1700000000000, 5)
	assert.Regexp(t, `^ORD-[0-9A-Z]+-[0-9A-Z]{5}$`, id)

	same := New("ORD", 1700000000000, 5)
	assert.Equal(t, strings.Split(id, "-")[1], strings.Split(same, "-")[1],
		"timestamp segment is deterministic for a fixed instant")
}

func TestRandBase36(t *testing.T) {
	s := RandBase36(8)
	assert.Len(t, s, 8)
	assert.Regexp(t, `^[0-9A-Z]{8}$`, s)

	assert.Empty(t, RandBase36(0))
}
