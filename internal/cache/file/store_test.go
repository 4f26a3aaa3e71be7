package file

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagelift/monetizer/internal/cache"
)

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	e := cache.Entry{WrittenAt: time.Unix(1700000000, 0).UTC(), Payload: []byte("<html>cached</html>")}
	require.NoError(t, s.Write("content:deadbeef", e))

	got, ok, err := s.Read("content:deadbeef")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e.Payload, got.Payload)
	require.True(t, e.WrittenAt.Equal(got.WrittenAt))
}

func TestStore_MissingKeyIsAMiss(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.Read("content:absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_DeleteAndClear(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write("a", cache.Entry{WrittenAt: time.Now()}))
	require.NoError(t, s.Write("b", cache.Entry{WrittenAt: time.Now()}))
	require.NoError(t, s.Delete("a"))
	_, ok, _ := s.Read("a")
	require.False(t, ok)

	require.NoError(t, s.Clear())
	_, ok, _ = s.Read("b")
	require.False(t, ok)

	require.NoError(t, s.Delete("a"), "deleting a missing key is not an error")
}

func TestNewStore_RequiresDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewStore("  ")
	require.Error(t, err)
}
