package mutate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagelift/monetizer/internal/monetize"
)

const plainContent = "<p>Intro paragraph.</p>\n\n" +
	"<h2>Why mugs matter</h2>\n\n" +
	"<p>Middle paragraph.</p>\n\n" +
	"<p>Another paragraph.</p>\n\n" +
	"<p>Closing paragraph.</p>"

const blockContent = "<!-- wp:paragraph -->\n<p>Intro paragraph.</p>\n<!-- /wp:paragraph -->\n\n" +
	"<!-- wp:heading -->\n<h2>Why mugs matter</h2>\n<!-- /wp:heading -->\n\n" +
	"<!-- wp:paragraph -->\n<p>Closing paragraph.</p>\n<!-- /wp:paragraph -->"

func testFragment(title string) string {
	return BuildFragment(monetize.ProductCandidate{ASIN: "B0EXAMPLE1", Title: title}, "demo-20")
}

func TestInsert_Idempotent(t *testing.T) {
	t.Parallel()

	boxA := testFragment("Mug A")
	boxB := testFragment("Mug B")

	once := Insert(plainContent, boxB, StrategySmartMiddle, "")
	twice := Insert(Insert(plainContent, boxA, StrategySmartMiddle, ""), boxB, StrategySmartMiddle, "")

	require.Equal(t, once, twice)
	require.Equal(t, 1, strings.Count(twice, fragmentStart))
	require.Contains(t, twice, "Mug B")
	require.NotContains(t, twice, "Mug A")
	for _, para := range []string{"Intro paragraph.", "Middle paragraph.", "Closing paragraph."} {
		require.Contains(t, twice, para)
	}
}

func TestInsert_BlockDialectWrapsFragment(t *testing.T) {
	t.Parallel()

	out := Insert(blockContent, testFragment("Mug"), StrategyTop, "")
	require.Contains(t, out, "<!-- wp:html -->\n"+fragmentStart)
	require.Contains(t, out, fragmentEnd+"\n<!-- /wp:html -->")

	// Re-insertion strips the wrapper along with the fragment.
	again := Insert(out, testFragment("Mug"), StrategyTop, "")
	require.Equal(t, 1, strings.Count(again, "<!-- wp:html -->"))
}

func TestInsert_PlainDialectNoWrapper(t *testing.T) {
	t.Parallel()

	out := Insert(plainContent, testFragment("Mug"), StrategyBottom, "")
	require.NotContains(t, out, "<!-- wp:html -->")
}

func TestInsert_Strategies(t *testing.T) {
	t.Parallel()

	frag := testFragment("Mug")

	t.Run("top lands after the first paragraph", func(t *testing.T) {
		t.Parallel()
		out := Insert(plainContent, frag, StrategyTop, "")
		require.Less(t, strings.Index(out, fragmentStart), strings.Index(out, "Why mugs matter"))
		require.Greater(t, strings.Index(out, fragmentStart), strings.Index(out, "Intro paragraph."))
	})

	t.Run("bottom appends", func(t *testing.T) {
		t.Parallel()
		out := Insert(plainContent, frag, StrategyBottom, "")
		require.Greater(t, strings.Index(out, fragmentStart), strings.Index(out, "Closing paragraph."))
	})

	t.Run("smart middle lands mid-document", func(t *testing.T) {
		t.Parallel()
		out := Insert(plainContent, frag, StrategySmartMiddle, "")
		pos := strings.Index(out, fragmentStart)
		require.Greater(t, pos, strings.Index(out, "Middle paragraph."))
		require.Less(t, pos, strings.Index(out, "Closing paragraph."))
	})

	t.Run("after heading", func(t *testing.T) {
		t.Parallel()
		out := Insert(plainContent, frag, StrategyAfterHeading, "")
		pos := strings.Index(out, fragmentStart)
		require.Greater(t, pos, strings.Index(out, "Why mugs matter"))
		require.Less(t, pos, strings.Index(out, "Middle paragraph."))
	})

	t.Run("after heading falls back to top without headings", func(t *testing.T) {
		t.Parallel()
		content := "<p>One.</p>\n\n<p>Two.</p>"
		out := Insert(content, frag, StrategyAfterHeading, "")
		require.Less(t, strings.Index(out, fragmentStart), strings.Index(out, "Two."))
	})
}

func TestInsert_ContextMatch(t *testing.T) {
	t.Parallel()

	frag := testFragment("Mug")

	out := Insert(plainContent, frag, StrategyContextMatch, "Why Mugs Matter?!")
	pos := strings.Index(out, fragmentStart)
	require.Greater(t, pos, strings.Index(out, "Why mugs matter"))
	require.Less(t, pos, strings.Index(out, "Middle paragraph."))

	// In the block dialect the fragment lands after the heading block close.
	out = Insert(blockContent, frag, StrategyContextMatch, "why mugs")
	require.Greater(t, strings.Index(out, fragmentStart), strings.Index(out, "<!-- /wp:heading -->"))

	// No matching heading appends at the end.
	out = Insert(plainContent, frag, StrategyContextMatch, "completely unrelated")
	require.Greater(t, strings.Index(out, fragmentStart), strings.Index(out, "Closing paragraph."))
}

func TestInsert_NoBoundariesAppends(t *testing.T) {
	t.Parallel()

	frag := testFragment("Mug")
	out := Insert("just loose text with no markup", frag, StrategySmartMiddle, "")
	require.True(t, strings.HasSuffix(out, fragmentEnd))

	require.Equal(t, frag, Insert("", frag, StrategyTop, ""))
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	s, err := ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, StrategySmartMiddle, s)

	s, err = ParseStrategy("context_match")
	require.NoError(t, err)
	require.Equal(t, StrategyContextMatch, s)

	_, err = ParseStrategy("sideways")
	require.Error(t, err)
}

func TestBuildFragment(t *testing.T) {
	t.Parallel()

	frag := BuildFragment(monetize.ProductCandidate{
		ASIN:          "B0EXAMPLE1",
		Title:         "Mug & Saucer",
		Price:         "$14.99",
		Rating:        4.5,
		PrimeShipping: true,
		Pros:          []string{"sturdy"},
		Cons:          []string{"heavy"},
	}, "demo-20")

	require.Contains(t, frag, `data-asin="B0EXAMPLE1"`)
	require.Contains(t, frag, "https://www.amazon.com/dp/B0EXAMPLE1?tag=demo-20")
	require.Contains(t, frag, "Mug &amp; Saucer")
	require.Contains(t, frag, "4.5 / 5")
	require.Contains(t, frag, "Prime shipping")
	require.Contains(t, frag, "<li>sturdy</li>")
	require.True(t, strings.HasPrefix(frag, fragmentStart))
	require.True(t, strings.HasSuffix(frag, fragmentEnd))

	// No identifier falls back to a search link.
	frag = BuildFragment(monetize.ProductCandidate{Title: "Mystery Mug"}, "demo-20")
	require.Contains(t, frag, "https://www.amazon.com/s?k=Mystery+Mug&tag=demo-20")
}
