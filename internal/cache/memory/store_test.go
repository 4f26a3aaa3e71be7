package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagelift/monetizer/internal/cache"
)

func TestStore_EvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	s := NewStore(3)
	base := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		err := s.Write(fmt.Sprintf("k%d", i), cache.Entry{WrittenAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	require.NoError(t, s.Write("k3", cache.Entry{WrittenAt: base.Add(3 * time.Minute)}))
	require.Equal(t, 3, s.Len())

	_, ok, err := s.Read("k0")
	require.NoError(t, err)
	require.False(t, ok, "oldest entry should be evicted")

	_, ok, _ = s.Read("k3")
	require.True(t, ok)
}

func TestStore_OverwriteDoesNotEvict(t *testing.T) {
	t.Parallel()

	s := NewStore(2)
	base := time.Unix(1000, 0)
	require.NoError(t, s.Write("a", cache.Entry{WrittenAt: base}))
	require.NoError(t, s.Write("b", cache.Entry{WrittenAt: base.Add(time.Minute)}))
	require.NoError(t, s.Write("a", cache.Entry{WrittenAt: base.Add(2 * time.Minute)}))

	require.Equal(t, 2, s.Len())
	_, ok, _ := s.Read("b")
	require.True(t, ok)
}

func TestStore_ClearAndDelete(t *testing.T) {
	t.Parallel()

	s := NewStore(0)
	require.NoError(t, s.Write("a", cache.Entry{WrittenAt: time.Unix(1, 0)}))
	require.NoError(t, s.Delete("a"))
	_, ok, _ := s.Read("a")
	require.False(t, ok)

	require.NoError(t, s.Write("b", cache.Entry{WrittenAt: time.Unix(1, 0)}))
	require.NoError(t, s.Clear())
	require.Equal(t, 0, s.Len())
}
