// Package uuid provides unit tests for identifier generation.
package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsValid(t *testing.T) {
	id := New()
	assert.Len(t, id, 36)
	assert.True(t, IsValid(id))
	assert.NoError(t, Validate(id))
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		assert.False(t, seen[id], "duplicate UUID generated: %s", id)
		seen[id] = true
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-uuid", "12345", "00000000-0000-0000-0000-000000000000"} {
		assert.Error(t, Validate(s), "expected %q to be rejected", s)
	}
}
