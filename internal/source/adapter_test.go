package source

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hxlab/bookmirror/internal/ingest"
)

func TestRegistryFor(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	lx, err := r.For(ingest.SourceLXHentai)
	require.NoError(t, err)
	require.Equal(t, ingest.SourceLXHentai, lx.Source())

	hvn, err := r.For(ingest.SourceHentaiVN)
	require.NoError(t, err)
	require.Equal(t, ingest.SourceHentaiVN, hvn.Source())

	_, err = r.For(ingest.SourceType("mangadex"))
	require.Error(t, err)
}

func TestAbsoluteURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		origin string
		href   string
		want   string
	}{
		{"relative path", "https://site.example", "/chap-2", "https://site.example/chap-2"},
		{"missing slash", "https://site.example", "chap-2", "https://site.example/chap-2"},
		{"already absolute", "https://site.example", "https://other.example/x", "https://other.example/x"},
		{"empty href", "https://site.example", "", ""},
		{"whitespace href", "https://site.example", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, absoluteURL(tc.origin, tc.href))
		})
	}
}

func TestMapTagsDropsUnknownAndDuplicates(t *testing.T) {
	t.Parallel()

	ids := mapTags([]string{"Manga", "mystery-unknown", "Harem", "Manga"})
	require.Equal(t, []int{tagToID["Manga"], tagToID["Harem"]}, ids)

	require.Nil(t, mapTags(nil))
	require.Empty(t, mapTags([]string{"totally-unknown"}))
}
