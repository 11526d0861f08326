package gequhai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"media-relay/work/client"
	"media-relay/work/config"
	"media-relay/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const listing = `<table>
<tr><td><a href="/play/501" class="music-link" title="稻香">稻香</a></td><td><span class="singer">周杰伦</span></td></tr>
<tr><td><a href="/play/502" class="music-link" title="Live &amp; Loud">Live</a></td><td><span class="singer"><b>Band</b></span></td></tr>
</table>
<div class="pages"><a href="/s/test/2">2</a><a href="/s/test/9">9</a></div>`

func newFakeSite(t *testing.T) *httptest.Server {
	mojibake, err := charmap.ISO8859_1.NewDecoder().String("https://cdn.example.com/歌曲/稻香.mp3")
	require.NoError(t, err)

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("[00:03.00]对这个世界如果你有太多的抱怨\n[00:00.00]稻香\n[00:01.00]www.gequhai.net\n"))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/s/test", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listing))
	})
	mux.HandleFunc("/s/test/2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="/play/503" title="Second Page">x</a><span class="singer">Other</span>`))
	})
	mux.HandleFunc("/api/play/501", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", mojibake)
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/api/play/502", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/media/502.mp3", http.StatusFound)
	})
	mux.HandleFunc("/play/501", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><meta property="og:image" content="/cover/501.jpg"></head></html>`))
	})
	mux.HandleFunc("/play/502", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head></head></html>`))
	})
	mux.HandleFunc("/lrc/501.lrc", func(w http.ResponseWriter, r *http.Request) {
		w.Write(utf16)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(baseURL string, maxPages int) *Adapter {
	src := config.SourceConfig{ID: "c", Name: "gequhai", BaseURL: baseURL, Enabled: true}
	return newAdapter(src, client.NewHeaderSettingClient(config.Default()), maxPages)
}

func TestSearch(t *testing.T) {
	srv := newFakeSite(t)

	songs, err := newTestAdapter(srv.URL, 2).Search(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, []types.Song{
		{UpstreamID: "501", Name: "稻香", Artist: "周杰伦"},
		{UpstreamID: "502", Name: "Live & Loud", Artist: "Band"},
		{UpstreamID: "503", Name: "Second Page", Artist: "Other"},
	}, songs)
}

func TestSearchMissingPageKeepsEarlierResults(t *testing.T) {
	srv := newFakeSite(t)

	// page 9 is advertised but page 3 does not exist
	songs, err := newTestAdapter(srv.URL, 5).Search(context.Background(), "test")
	require.NoError(t, err)
	assert.Len(t, songs, 3)
}

func TestStreamURLRepairsLocation(t *testing.T) {
	srv := newFakeSite(t)
	a := newTestAdapter(srv.URL, 5)

	u, err := a.StreamURL(context.Background(), "501")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/歌曲/稻香.mp3", u)

	u, err = a.StreamURL(context.Background(), "502")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/media/502.mp3", u)

	_, err = a.StreamURL(context.Background(), "404")
	assert.ErrorIs(t, err, types.ErrUpstream)
}

func TestPoster(t *testing.T) {
	srv := newFakeSite(t)
	a := newTestAdapter(srv.URL, 5)

	poster, err := a.Poster(context.Background(), "501")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/cover/501.jpg", poster)

	_, err = a.Poster(context.Background(), "502")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLyricsUTF16(t *testing.T) {
	srv := newFakeSite(t)
	a := newTestAdapter(srv.URL, 5)
	a.host = "www.gequhai.net"

	lines, err := a.Lyrics(context.Background(), "501")
	require.NoError(t, err)
	assert.Equal(t, []types.LyricLine{
		{Time: 0, Text: "稻香"},
		{Time: 3, Text: "对这个世界如果你有太多的抱怨"},
	}, lines)
}
