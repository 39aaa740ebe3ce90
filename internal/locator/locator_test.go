package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYouTubeFormsCanonicalize(t *testing.T) {
	forms := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=10",
	}
	for _, raw := range forms {
		loc, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, KindYouTube, loc.Kind, raw)
		assert.Equal(t, "dQw4w9WgXcQ", loc.ID, raw)
		assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", loc.Canonical, raw)
	}
}

func TestParseVimeoFormsCanonicalize(t *testing.T) {
	forms := []string{
		"https://vimeo.com/12345",
		"https://www.vimeo.com/12345",
		"https://vimeo.com/video/12345",
		"https://player.vimeo.com/video/12345",
	}
	for _, raw := range forms {
		loc, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, KindVimeo, loc.Kind, raw)
		assert.Equal(t, "https://vimeo.com/12345", loc.Canonical, raw)
	}
}

func TestParseDirectFiles(t *testing.T) {
	for _, raw := range []string{
		"foo.mp4",
		"foo.MP4",
		"https://example.com/movies/clip.webm",
		"https://cdn.example.com/live/stream.m3u8?token=abc",
	} {
		loc, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, KindFile, loc.Kind, raw)
		assert.Equal(t, raw, loc.Canonical, raw)
	}
}

func TestParseRejectsEverythingElse(t *testing.T) {
	for _, raw := range []string{
		"",
		"https://example.com/notvideo",
		"https://vimeo.com/about",
		"https://youtube.com/watch",
		"https://youtu.be/",
		"not a url at all",
		"foo.txt",
	} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrUnsupported, raw)
	}
}
