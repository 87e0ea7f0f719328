package wordfilter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkcommunity/registry/internal/wordfilter"
)

func TestPlainFilterMatchesWholeWords(t *testing.T) {
	t.Parallel()

	filters := wordfilter.New()
	filters.Import([]wordfilter.Filter{
		{ID: 1, Pattern: "badword", IsEnabled: true},
	})

	word, matched := filters.Match("this contains BadWord somewhere")
	require.True(t, matched)
	require.Equal(t, "badword", word)

	_, matched = filters.Match("badwording is a substring, not a word")
	require.False(t, matched)
}

func TestRegexFilter(t *testing.T) {
	t.Parallel()

	filters := wordfilter.New()
	filters.Import([]wordfilter.Filter{
		{ID: 1, Pattern: `b[a4]dw[o0]rd`, IsRegex: true, IsEnabled: true},
	})

	_, matched := filters.Match("team b4dw0rd rules")
	require.True(t, matched)
}

func TestDisabledFilterIgnored(t *testing.T) {
	t.Parallel()

	filters := wordfilter.New()
	filters.Import([]wordfilter.Filter{
		{ID: 1, Pattern: "badword", IsEnabled: false},
	})

	_, matched := filters.Match("badword")
	require.False(t, matched)
}

func TestScreen(t *testing.T) {
	t.Parallel()

	filters := wordfilter.New()
	filters.Import([]wordfilter.Filter{
		{ID: 1, Pattern: "badword", IsEnabled: true},
	})

	require.NoError(t, filters.Screen("Clean Team", "a fine description"))
	require.Error(t, filters.Screen("Clean Team", "contains badword here"))

	// An empty list screens everything through.
	require.NoError(t, wordfilter.New().Screen("anything at all"))
}
