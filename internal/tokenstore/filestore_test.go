package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func nextChange(t *testing.T, s *FileStore) Change {
	t.Helper()
	select {
	case c := <-s.Changes():
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for storage change")
		return Change{}
	}
}

func TestSetGetRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	s, err := Open(path)
	require.NoError(t, err)

	_, ok := s.Get(KeyToken)
	assert.False(t, ok)

	require.NoError(t, s.Set(KeyToken, "abc"))
	require.NoError(t, s.Set(KeyTheme, "dark"))
	v, ok := s.Get(KeyToken)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, s.Remove(KeyToken, KeyUser))
	_, ok = s.Get(KeyToken)
	assert.False(t, ok)
	v, _ = s.Get(KeyTheme)
	assert.Equal(t, "dark", v, "removing the token must not touch the theme")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestWatchDeliversOtherProcessChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")

	tabA, err := Open(path)
	require.NoError(t, err)
	tabB, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tabA.Watch(ctx))
	defer tabA.Close()

	require.NoError(t, tabB.Set(KeyToken, "tok-1"))
	c := nextChange(t, tabA)
	assert.Equal(t, Change{Key: KeyToken, NewValue: "tok-1"}, c)

	require.NoError(t, tabB.Remove(KeyToken))
	c = nextChange(t, tabA)
	assert.Equal(t, Change{Key: KeyToken, OldValue: "tok-1", Removed: true}, c)
}

func TestWatchIgnoresOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	s, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))
	defer s.Close()

	require.NoError(t, s.Set(KeyTheme, "dark"))

	select {
	case c := <-s.Changes():
		t.Fatalf("unexpected self notification: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMemoryExternalChanges(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set(KeyToken, "t"))

	c := m.ExternalRemove(KeyToken)
	assert.True(t, c.Removed)
	assert.Equal(t, c, <-m.Changes())
	_, ok := m.Get(KeyToken)
	assert.False(t, ok)

	m.ExternalSet(KeyTheme, "dark")
	got := <-m.Changes()
	assert.Equal(t, "dark", got.NewValue)

	m.Wipe(KeyTheme)
	_, ok = m.Get(KeyTheme)
	assert.False(t, ok)
	assert.Len(t, m.Changes(), 0)
}
