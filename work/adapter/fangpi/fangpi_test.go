package fangpi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"media-relay/work/client"
	"media-relay/work/config"
	"media-relay/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listing = `<div class="card-body">
<a class="music-link d-block" href="/music/101">
	<span class="music-title">晴天</span>
	<small class="text-jade font-weight-bold">周杰伦</small>
</a>
<a class="music-link d-block" href="/music/102">
	<span class="music-title">Rock &amp; Roll</span>
	<small class="text-jade font-weight-bold">Band</small>
</a>
</div>
<ul class="pagination"><li><a href="/s/test?page=2">2</a></li></ul>`

const listingPage2 = `<a class="music-link" href="/music/103"><span class="music-title">Page Two</span><small>Other</small></a>
<ul class="pagination"><li><a href="/s/test?page=1">1</a></li><li><a href="/s/test?page=2">2</a></li></ul>`

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

func newFakeSite(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/s/test", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.Write([]byte(listingPage2))
			return
		}
		w.Write([]byte(listing))
	})
	mux.HandleFunc("/music/101", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><script>
window.appData = {"mp3_id":"101","mp3_title":"晴天","mp3_author":"周杰伦","mp3_cover":"https:\/\/img.example.com\/101.jpg","play_id":"p-101"};
</script></head><body>
<div class="lrc" id="content-lrc">[00:10.00]故事的小黄花<br>[00:00.00]晴天 - 周杰伦<br />[00:05.00]更多歌词 %s<br/>[00:12.50]&lt;从出生那年&gt;</div>
</body></html>`, hostOnly(r.Host))
	})
	mux.HandleFunc("/music/104", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>removed</body></html>`))
	})
	mux.HandleFunc("/api/play-url", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("id") != "p-101" {
			w.Write([]byte(`{"code":0,"msg":"not found"}`))
			return
		}
		w.Write([]byte(`{"code":1,"data":{"url":"https:\/\/cdn.example.com\/101.mp3"}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(baseURL string, maxPages int) *Adapter {
	src := config.SourceConfig{ID: "b", Name: "fangpi", BaseURL: baseURL, Enabled: true}
	return newAdapter(src, client.NewHeaderSettingClient(config.Default()), maxPages)
}

func TestSearch(t *testing.T) {
	srv := newFakeSite(t)

	songs, err := newTestAdapter(srv.URL, 5).Search(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, []types.Song{
		{UpstreamID: "101", Name: "晴天", Artist: "周杰伦"},
		{UpstreamID: "102", Name: "Rock & Roll", Artist: "Band"},
		{UpstreamID: "103", Name: "Page Two", Artist: "Other"},
	}, songs)

	songs, err = newTestAdapter(srv.URL, 1).Search(context.Background(), "test")
	require.NoError(t, err)
	assert.Len(t, songs, 2)
}

func TestStreamURL(t *testing.T) {
	srv := newFakeSite(t)
	a := newTestAdapter(srv.URL, 5)

	u, err := a.StreamURL(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/101.mp3", u)

	_, err = a.StreamURL(context.Background(), "104")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPoster(t *testing.T) {
	srv := newFakeSite(t)

	poster, err := newTestAdapter(srv.URL, 5).Poster(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/101.jpg", poster)
}

func TestLyricsEmbedded(t *testing.T) {
	srv := newFakeSite(t)

	lines, err := newTestAdapter(srv.URL, 5).Lyrics(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, []types.LyricLine{
		{Time: 0, Text: "晴天 - 周杰伦"},
		{Time: 10, Text: "故事的小黄花"},
		{Time: 12.5, Text: "<从出生那年>"},
	}, lines)
}

func TestDetailMissing(t *testing.T) {
	srv := newFakeSite(t)

	_, err := newTestAdapter(srv.URL, 5).Lyrics(context.Background(), "999")
	assert.ErrorIs(t, err, types.ErrUpstream)
}
