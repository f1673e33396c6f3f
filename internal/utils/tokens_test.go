package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLinkCode(t *testing.T) {
	a, err := NewLinkCode(0)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.Regexp(t, `^[0-9A-F]+$`, a)

	b, err := NewLinkCode(4)
	require.NoError(t, err)
	assert.Len(t, b, 8)
	assert.NotEqual(t, a[:8], b)
}
