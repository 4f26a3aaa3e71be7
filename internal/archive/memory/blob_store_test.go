package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObject_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "runs/r1/42.html", "text/html", []byte("snapshot"))
	require.NoError(t, err)
	require.Equal(t, "memory://runs/r1/42.html", uri)

	data, ok := store.Object("runs/r1/42.html")
	require.True(t, ok)
	require.Equal(t, "snapshot", string(data))

	_, err = store.PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}
