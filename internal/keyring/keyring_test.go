package keyring

import (
	"testing"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyring_LockedByDefault(t *testing.T) {
	k := New()
	assert.False(t, k.Unlocked())

	err := k.With(func([]byte) error {
		t.Fatal("fn must not run while locked")
		return nil
	})
	require.ErrorIs(t, err, common.ErrLocked)
}

func TestKeyring_SetWithLock(t *testing.T) {
	k := New()
	pw := []byte("pw1")
	k.Set(pw)

	assert.Equal(t, []byte("pw1"), pw, "caller's slice must be left intact")
	assert.True(t, k.Unlocked())

	var seen string
	require.NoError(t, k.With(func(p []byte) error {
		seen = string(p)
		return nil
	}))
	assert.Equal(t, "pw1", seen)

	k.Lock()
	assert.False(t, k.Unlocked())
	require.ErrorIs(t, k.With(func([]byte) error { return nil }), common.ErrLocked)
}

func TestKeyring_EmptyPassword(t *testing.T) {
	k := New()
	k.Set(nil)
	require.True(t, k.Unlocked())

	require.NoError(t, k.With(func(p []byte) error {
		assert.Empty(t, p)
		return nil
	}))
}

func TestKeyring_SetReplaces(t *testing.T) {
	k := New()
	k.Set([]byte("a"))
	k.Set([]byte("b"))

	require.NoError(t, k.With(func(p []byte) error {
		assert.Equal(t, "b", string(p))
		return nil
	}))
}
