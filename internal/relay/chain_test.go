package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChain_CandidatesOrderAndStickiness(t *testing.T) {
	t.Parallel()

	c := NewChain([]string{"", "https://relay-a.example/?url=", "https://relay-b.example/?url="})

	first := c.Candidates()
	require.Len(t, first, 3)
	require.Equal(t, 0, first[0].Index)

	c.Promote(2)
	after := c.Candidates()
	require.Equal(t, 2, after[0].Index)
	require.Equal(t, "relay-b.example", after[0].Name())
	require.Equal(t, 0, after[1].Index)
	require.Equal(t, 1, after[2].Index)
}

func TestEndpoint_Wrap(t *testing.T) {
	t.Parallel()

	direct := Endpoint{Prefix: ""}
	require.Equal(t, "https://example.com/a?b=c", direct.Wrap("https://example.com/a?b=c"))
	require.Equal(t, "direct", direct.Name())

	proxied := Endpoint{Prefix: "https://relay.example/raw?url="}
	require.Equal(t,
		"https://relay.example/raw?url=https%3A%2F%2Fexample.com%2Fa%3Fb%3Dc",
		proxied.Wrap("https://example.com/a?b=c"))
}

func TestChain_PromoteIgnoresBadIndex(t *testing.T) {
	t.Parallel()

	c := NewChain(nil)
	c.Promote(99)
	require.Equal(t, 0, c.Candidates()[0].Index)
}
