package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagelift/monetizer/internal/monetize"
)

func TestClassify_Phase1_Listicles(t *testing.T) {
	t.Parallel()

	titles := []string{
		"10 Gadgets You Need In 2025",
		"  7 ways to speed up your laptop",
		"Best Standing Desks For Small Offices",
		"Top 5 Mechanical Keyboards",
		"The Ultimate Packing List For Japan",
	}
	for _, title := range titles {
		got := Classify(title, "")
		require.Equal(t, monetize.ContentListicle, got.ContentType, title)
		require.Equal(t, monetize.PriorityHigh, got.Priority, title)
		require.Equal(t, monetize.StatusOpportunity, got.Monetization, title)
	}
}

func TestClassify_Phase1_ReviewsAndInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title    string
		ct       monetize.ContentType
		priority monetize.Priority
	}{
		{"Sony WH-1000XM5 Review", monetize.ContentReview, monetize.PriorityHigh},
		{"Kindle vs Kobo: which e-reader wins?", monetize.ContentReview, monetize.PriorityHigh},
		{"Hands-On With The New Pixel", monetize.ContentReview, monetize.PriorityHigh},
		{"A Buying Guide For Espresso Machines", monetize.ContentReview, monetize.PriorityHigh},
		{"How Our Newsroom Works", monetize.ContentInfo, monetize.PriorityLow},
		{"", monetize.ContentUnknown, monetize.PriorityLow},
	}
	for _, tc := range tests {
		got := Classify(tc.title, "")
		require.Equal(t, tc.ct, got.ContentType, tc.title)
		require.Equal(t, tc.priority, got.Priority, tc.title)
	}
}

func TestClassify_Phase2_MarkersMeanMonetized(t *testing.T) {
	t.Parallel()

	marked := `<p>Check it out <a href="https://amzn.to/3xYz">here</a></p>`
	got := Classify("Best Air Fryers", marked)
	require.Equal(t, monetize.StatusMonetized, got.Monetization)
	require.Equal(t, monetize.PriorityMedium, got.Priority)
}

func TestClassify_Phase2_CommercialWithoutMarkersIsCritical(t *testing.T) {
	t.Parallel()

	got := Classify("Best Air Fryers", "<p>no links at all</p>")
	require.Equal(t, monetize.StatusOpportunity, got.Monetization)
	require.Equal(t, monetize.PriorityCritical, got.Priority)
}

func TestClassify_Phase2_LongInfoContentIsHigh(t *testing.T) {
	t.Parallel()

	long := "<p>" + strings.Repeat("words and more words ", 200) + "</p>"
	got := Classify("How Our Newsroom Works", long)
	require.Equal(t, monetize.PriorityHigh, got.Priority)
	require.Equal(t, monetize.StatusOpportunity, got.Monetization)

	short := Classify("How Our Newsroom Works", "<p>short</p>")
	require.Equal(t, monetize.PriorityLow, short.Priority)
}

func TestHasAffiliateMarkers(t *testing.T) {
	t.Parallel()

	require.True(t, monetize.HasAffiliateMarkers(`<a href="https://www.amazon.com/dp/B0ABCD1234?tag=mysite-20">x</a>`))
	require.True(t, monetize.HasAffiliateMarkers(`<a rel="nofollow sponsored" href="https://x.example">x</a>`))
	require.False(t, monetize.HasAffiliateMarkers(`<a href="https://www.amazon.com/dp/B0ABCD1234">plain</a>`))
}

func TestDetectASIN(t *testing.T) {
	t.Parallel()

	require.Equal(t, "B0ABCD1234", monetize.DetectASIN(`<a href="https://www.amazon.com/dp/B0ABCD1234">x</a>`))
	require.Equal(t, "", monetize.DetectASIN(`<p>nothing</p>`))
}
