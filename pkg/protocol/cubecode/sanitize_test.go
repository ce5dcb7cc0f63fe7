package cubecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "Alice", SanitizeString("\f3Alice"))
	assert.Equal(t, "Al ice", SanitizeString(" Al\x1b ice\n"))
	assert.Equal(t, "Bob", SanitizeString("Bob"))
	assert.Equal(t, "", SanitizeString("\f1\f2"))
}
