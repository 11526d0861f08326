package video

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"media-relay/work/client"
	"media-relay/work/clue"
	"media-relay/work/config"
	"media-relay/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailJSON = `{"code":1,"msg":"ok","list":[{
	"vod_id":42,"vod_name":" Night Train ","type_id":6,"type_name":"Drama",
	"vod_pic":"https://img.example.com/42.jpg","vod_remarks":"HD","vod_time":"2024-05-01 10:00:00",
	"vod_year":"2023","vod_area":"JP","vod_lang":"ja","vod_director":"Sato","vod_actor":"Ito,Mori",
	"vod_content":"A long ride.",
	"vod_play_from":"webplay$$$xxm3u8",
	"vod_play_url":"EP1$https://web.example.com/1.html#EP2$https://web.example.com/2.html$$$EP1$https://cdn.example.com/1/index.m3u8#EP2$https://cdn.example.com/2/index.m3u8"
}]}`

const listJSON = `{"code":1,"msg":"ok","list":[
	{"vod_id":"42","vod_name":"Night Train","type_id":6,"type_name":"Drama","vod_remarks":"HD"},
	{"vod_id":"43","vod_name":"Day Train","type_id":6,"type_name":"Drama","vod_remarks":"EP3"}
]}`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("ac") == "detail" && q.Get("ids") == "42":
			w.Write([]byte(detailJSON))
		case q.Get("ac") == "detail":
			w.Write([]byte(`{"code":1,"msg":"ok","list":[]}`))
		case q.Get("ac") == "list" && q.Get("wd") == "broken":
			w.Write([]byte(`{"code":0,"msg":"closed"}`))
		case q.Get("ac") == "list":
			w.Write([]byte(listJSON))
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.VideoAPI = srv.URL + "/api.php/provide/vod/"
	cfg.VideoSite = "v"
	cfg.Sources = nil
	return NewClient(client.NewHeaderSettingClient(cfg), cfg)
}

func TestSearch(t *testing.T) {
	c := newTestClient(t)

	items, err := c.Search(context.Background(), "train")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "42", items[0].ID)
	assert.Equal(t, "Night Train", items[0].Name)
	assert.Equal(t, "Drama", items[0].Type)

	cl, ok := clue.Parse(items[1].Token)
	require.True(t, ok)
	assert.Equal(t, clue.Clue{API: "v", ID: "43"}, cl)
}

func TestSearchUpstreamRefusal(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Search(context.Background(), "broken")
	assert.True(t, errors.Is(err, types.ErrUpstream))
}

func TestDetail(t *testing.T) {
	c := newTestClient(t)

	info, err := c.Detail(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "Night Train", info.Name)
	assert.Equal(t, "2023", info.Year)
	assert.Equal(t, "Sato", info.Director)

	require.Len(t, info.Episodes, 2)
	assert.Equal(t, "EP2", info.Episodes[1].Name)
	assert.Equal(t, "https://cdn.example.com/2/index.m3u8", info.Episodes[1].URL)
	link, ok := clue.ParseParams(info.Episodes[1].Token)
	require.True(t, ok)
	assert.Equal(t, info.Episodes[1].URL, link)

	require.Len(t, info.Related, 1)
	assert.Equal(t, "43", info.Related[0].ID)
}

func TestDetailNotFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Detail(context.Background(), "7")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestParseEpisodes(t *testing.T) {
	t.Run("falls back to m3u8 links", func(t *testing.T) {
		eps := ParseEpisodes("a$$$b", "1$https://x/1.html$$$1$https://x/1.m3u8#2$https://x/2.m3u8")
		require.Len(t, eps, 2)
		assert.Equal(t, "https://x/1.m3u8", eps[0].URL)
	})

	t.Run("first source otherwise", func(t *testing.T) {
		eps := ParseEpisodes("a", "Movie$https://x/movie.mp4")
		require.Len(t, eps, 1)
		assert.Equal(t, "Movie", eps[0].Name)
	})

	t.Run("unnamed entries and blanks", func(t *testing.T) {
		eps := ParseEpisodes("", "https://x/a.m3u8##bad$")
		require.Len(t, eps, 1)
		assert.Equal(t, "1", eps[0].Name)
		assert.Equal(t, "https://x/a.m3u8", eps[0].URL)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, ParseEpisodes("", ""))
	})
}
