package theme

import (
	"testing"

	"papermind/internal/tokenstore"
	"papermind/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThemeDefaultsAndPersists(t *testing.T) {
	store := tokenstore.NewMemory()
	c := New(store, types.ThemeLight)
	assert.Equal(t, types.ThemeLight, c.Current())

	next, err := c.Toggle()
	require.NoError(t, err)
	assert.Equal(t, types.ThemeDark, next)
	v, _ := store.Get(tokenstore.KeyTheme)
	assert.Equal(t, "dark", v)

	assert.Equal(t, types.ThemeDark, New(store, types.ThemeLight).Current(), "stored value beats the default")
}

func TestThemeFollowsOtherProcesses(t *testing.T) {
	store := tokenstore.NewMemory()
	c := New(store, types.ThemeLight)

	assert.True(t, c.OnExternalStorageChange(store.ExternalSet(tokenstore.KeyTheme, "dark")))
	assert.Equal(t, types.ThemeDark, c.Current())
	assert.False(t, c.OnExternalStorageChange(store.ExternalSet(tokenstore.KeyTheme, "dark")))

	// The token key is not a theme change.
	assert.False(t, c.OnExternalStorageChange(store.ExternalSet(tokenstore.KeyToken, "light")))
	assert.Equal(t, types.ThemeDark, c.Current())
}
