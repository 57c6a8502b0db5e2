package ownership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserOwnsEntryReturnsFalseWhenUnseeded(t *testing.T) {
	m := NewMemory()
	owns, err := m.UserOwnsEntry(context.Background(), "u1", "e1")
	require.NoError(t, err)
	assert.False(t, owns)
}

func TestSetOwnerThenUserOwnsEntry(t *testing.T) {
	m := NewMemory()
	m.SetOwner("e1", "u1")

	owns, err := m.UserOwnsEntry(context.Background(), "u1", "e1")
	require.NoError(t, err)
	assert.True(t, owns)

	owns, err = m.UserOwnsEntry(context.Background(), "u2", "e1")
	require.NoError(t, err)
	assert.False(t, owns)
}
