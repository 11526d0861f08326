package twot58

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"media-relay/work/client"
	"media-relay/work/config"
	"media-relay/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listingPage(pages int, entries ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="play_list"><ul>`)
	for _, e := range entries {
		id, title, _ := strings.Cut(e, "=")
		fmt.Fprintf(&b, `<li><div class="name"><a href="/song/%s.html" target="_mp3">%s</a></div></li>`, id, title)
	}
	b.WriteString(`</ul></div><div class="page">`)
	for p := 1; p <= pages; p++ {
		fmt.Fprintf(&b, `<a href="/so/test/%d.html">%d</a>`, p, p)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

type fakeSite struct {
	*httptest.Server
	requests atomic.Int32
	guarded  bool
}

func newFakeSite(t *testing.T, guarded bool) *fakeSite {
	site := &fakeSite{guarded: guarded}
	mux := http.NewServeMux()

	mux.HandleFunc("/so/test/1.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage(3, "aaa=周杰伦 - 晴天", "bbb=No Separator &amp; Co")))
	})
	mux.HandleFunc("/so/test/2.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage(3, "ccc=Artist Two - Song Two")))
	})
	mux.HandleFunc("/so/test/3.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage(3, "ddd=Artist Three - Song Three")))
	})
	mux.HandleFunc("/js/play.php", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("id") != "aaa" {
			json.NewEncoder(w).Encode(playResponse{Msg: 0})
			return
		}
		assert.Equal(t, "music", r.PostForm.Get("type"))
		assert.True(t, strings.HasSuffix(r.Header.Get("Referer"), "/song/aaa.html"))
		json.NewEncoder(w).Encode(playResponse{Msg: 1, Title: "晴天", Pic: "/pic/aaa.jpg", URL: "https://cdn.example.com/aaa.mp3"})
	})
	mux.HandleFunc("/plug/down.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lrc", r.URL.Query().Get("lk"))
		fmt.Fprintf(w, "[00:02.00]second\n[00:00.50]first\n[00:01.00]歌词来自 %s\n", r.Host[:strings.LastIndex(r.Host, ":")])
	})

	site.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.requests.Add(1)
		if site.guarded && r.Method == http.MethodGet && r.Header.Get("Cookie") != "guard=pass" {
			http.SetCookie(w, &http.Cookie{Name: "guard", Value: "pass"})
			w.WriteHeader(http.StatusForbidden)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(site.Close)
	return site
}

func newTestAdapter(baseURL string, maxPages int) *Adapter {
	cfg := config.Default()
	src := config.SourceConfig{ID: "a", Name: "2t58", BaseURL: baseURL + "/", Enabled: true}
	return newAdapter(src, client.NewHeaderSettingClient(cfg), maxPages)
}

func TestSearchPaginates(t *testing.T) {
	site := newFakeSite(t, false)
	a := newTestAdapter(site.URL, 5)

	songs, err := a.Search(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, []types.Song{
		{UpstreamID: "aaa", Name: "晴天", Artist: "周杰伦"},
		{UpstreamID: "bbb", Name: "No Separator & Co"},
		{UpstreamID: "ccc", Name: "Song Two", Artist: "Artist Two"},
		{UpstreamID: "ddd", Name: "Song Three", Artist: "Artist Three"},
	}, songs)
}

func TestSearchStopsAtMaxPages(t *testing.T) {
	site := newFakeSite(t, false)
	a := newTestAdapter(site.URL, 2)

	songs, err := a.Search(context.Background(), "test")
	require.NoError(t, err)
	assert.Len(t, songs, 3)
}

func TestSearchRetriesOnceWithCookie(t *testing.T) {
	site := newFakeSite(t, true)
	a := newTestAdapter(site.URL, 1)

	songs, err := a.Search(context.Background(), "test")
	require.NoError(t, err)
	assert.Len(t, songs, 2)
	assert.Equal(t, int32(2), site.requests.Load())
}

func TestSearchFailure(t *testing.T) {
	a := newTestAdapter("http://127.0.0.1:1", 5)
	songs, err := a.Search(context.Background(), "test")
	assert.ErrorIs(t, err, types.ErrUpstream)
	assert.Empty(t, songs)
}

func TestStreamURLAndPoster(t *testing.T) {
	site := newFakeSite(t, false)
	a := newTestAdapter(site.URL, 5)

	u, err := a.StreamURL(context.Background(), "aaa")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/aaa.mp3", u)

	poster, err := a.Poster(context.Background(), "aaa")
	require.NoError(t, err)
	assert.Equal(t, site.URL+"/pic/aaa.jpg", poster)

	_, err = a.StreamURL(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLyricsDropsWatermark(t *testing.T) {
	site := newFakeSite(t, true)
	a := newTestAdapter(site.URL, 5)

	lines, err := a.Lyrics(context.Background(), "aaa")
	require.NoError(t, err)
	assert.Equal(t, []types.LyricLine{
		{Time: 0.5, Text: "first"},
		{Time: 2, Text: "second"},
	}, lines)
}

func TestIdentity(t *testing.T) {
	a := newTestAdapter("https://www.2t58.com", 5)
	assert.Equal(t, "a", a.ID())
	assert.Equal(t, "2t58", a.Name())
	assert.Equal(t, "www.2t58.com", a.Host())
}
