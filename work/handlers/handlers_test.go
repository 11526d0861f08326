package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"media-relay/work/adapter"
	"media-relay/work/buffer"
	"media-relay/work/client"
	"media-relay/work/clue"
	"media-relay/work/config"
	"media-relay/work/music"
	"media-relay/work/parser"
	"media-relay/work/proxy"
	"media-relay/work/restream"
	"media-relay/work/types"
	"media-relay/work/video"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAdapter struct {
	mock.Mock
	id string
}

func (m *MockAdapter) ID() string   { return m.id }
func (m *MockAdapter) Name() string { return "mock-" + m.id }
func (m *MockAdapter) Host() string { return m.id + ".example.com" }

func (m *MockAdapter) Search(ctx context.Context, keyword string) ([]types.Song, error) {
	args := m.Called(ctx, keyword)
	return args.Get(0).([]types.Song), args.Error(1)
}

func (m *MockAdapter) StreamURL(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockAdapter) Poster(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockAdapter) Lyrics(ctx context.Context, id string) ([]types.LyricLine, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]types.LyricLine), args.Error(1)
}

type env struct {
	cfg      *config.Config
	music    *music.Service
	proxy    *proxy.StreamProxy
	video    *video.Client
	download *restream.Downloader
	upstream *httptest.Server
}

func newEnv(t *testing.T, adapters ...adapter.Adapter) *env {
	t.Helper()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v/index.m3u8":
			w.Write([]byte("#EXTM3U\n#EXTINF:4,\na1.ts\n#EXTINF:4,\na2.ts\n#EXT-X-ENDLIST\n"))
		case strings.HasSuffix(r.URL.Path, ".ts"):
			fmt.Fprintf(w, "[%s]", strings.TrimPrefix(r.URL.Path, "/v/"))
		case r.URL.Path == "/api.php":
			w.Write([]byte(`{"code":1,"msg":"ok","list":[{"vod_id":5,"vod_name":"Clip","vod_play_from":"m3u8","vod_play_url":"1$https://cdn.example.com/5.m3u8"}]}`))
		case r.URL.Path == "/blank.html":
			w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(up.Close)

	cfg := config.Default()
	cfg.Sources = nil
	cfg.BaseURL = "http://relay.test"
	cfg.VideoAPI = up.URL + "/api.php"
	cfg.VideoSite = "v"

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	registry := adapter.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, registry.Register(a))
	}

	hc := client.NewHeaderSettingClient(cfg)
	svc := music.NewService(cfg, registry, pool, nil)
	return &env{
		cfg:      cfg,
		music:    svc,
		proxy:    proxy.New(cfg, buffer.NewBufferPool(1024), hc, pool, svc),
		video:    video.NewClient(hc, cfg),
		download: restream.NewDownloader(hc, parser.NewEngine(hc, cfg), pool, cfg),
		upstream: up,
	}
}

func serve(h http.HandlerFunc, target string, vars map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) types.Envelope {
	t.Helper()
	var e types.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestMusicListAggregatesAdapters(t *testing.T) {
	a := &MockAdapter{id: "a"}
	a.On("Search", mock.Anything, "test").Return([]types.Song{
		{UpstreamID: "1", Name: "One", Artist: "X"},
		{UpstreamID: "2", Name: "Two", Artist: "Y"},
	}, nil)
	b := &MockAdapter{id: "b"}
	b.On("Search", mock.Anything, "test").Return([]types.Song{}, nil)

	e := newEnv(t, a, b)
	rec := serve(HandleMusicList(e.music), "/api/music/list?s=test", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Code int                  `json:"code"`
		Data []types.SearchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Code)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "a1", body.Data[0].ID)
	assert.True(t, strings.HasPrefix(body.Data[0].URL, "http://relay.test/api/music/play/"))
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestMusicListRequiresKeyword(t *testing.T) {
	e := newEnv(t)
	rec := serve(HandleMusicList(e.music), "/api/music/list?s=%20", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, -1, envelope(t, rec).Code)
}

func TestMusicLyrics(t *testing.T) {
	a := &MockAdapter{id: "a"}
	a.On("Lyrics", mock.Anything, "9").Return([]types.LyricLine{{Time: 1.25, Text: "hi"}}, nil)

	e := newEnv(t, a)
	rec := serve(HandleMusicLyrics(e.music), "/api/music/lrc/x", map[string]string{"id": clue.Create("a", "9")})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":0,"data":[{"time":1.25,"text":"hi"}],"msg":"ok"}`, rec.Body.String())
}

func TestMusicLyricsUnknownID(t *testing.T) {
	e := newEnv(t)
	rec := serve(HandleMusicLyrics(e.music), "/", map[string]string{"id": "!!"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMusicPosterFallsBack(t *testing.T) {
	a := &MockAdapter{id: "a"}
	a.On("Poster", mock.Anything, "3").Return("", types.ErrNotFound)

	e := newEnv(t, a)
	rec := serve(HandleMusicPoster(e.proxy), "/", map[string]string{"id": "a3"})

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, e.cfg.DefaultPoster, rec.Header().Get("Location"))
}

func TestVideoPureRejectsBadToken(t *testing.T) {
	e := newEnv(t)
	rec := serve(HandleVideoPure(e.proxy), "/", map[string]string{"token": "%%%"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, -1, envelope(t, rec).Code)
}

func TestVideoPureByToken(t *testing.T) {
	e := newEnv(t)
	token := clue.CreateParams(e.upstream.URL + "/v/index.m3u8")
	rec := serve(HandleVideoPure(e.proxy), "/", map[string]string{"token": token})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), e.upstream.URL+"/v/a1.ts")
}

func TestVideoPureURLRequiresURL(t *testing.T) {
	e := newEnv(t)
	rec := serve(HandleVideoPureURL(e.proxy), "/api/video/m3u8-pure", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVideoParse(t *testing.T) {
	e := newEnv(t)

	rec := serve(HandleVideoParse(e.proxy), "/api/video/parse?url=https://cdn.example.com/x.mp4", nil)
	assert.JSONEq(t, `{"code":0,"data":"https://cdn.example.com/x.mp4","msg":"ok"}`, rec.Body.String())

	token := clue.CreateParams(e.upstream.URL + "/blank.html")
	rec = serve(HandleVideoParseToken(e.proxy), "/", map[string]string{"token": token})
	assert.JSONEq(t, `{"code":0,"data":null,"msg":"ok"}`, rec.Body.String())
}

func TestVideoListAndDetail(t *testing.T) {
	e := newEnv(t)

	rec := serve(HandleVideoList(e.video), "/api/video/list?s=clip", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []types.VideoListItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)

	rec = serve(HandleVideoDetail(e.video), "/", map[string]string{"token": list.Data[0].Token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://cdn.example.com/5.m3u8")

	rec = serve(HandleVideoDetail(e.video), "/", map[string]string{"token": clue.Create("other", "5")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideoDownload(t *testing.T) {
	e := newEnv(t)
	token := clue.CreateParams(e.upstream.URL + "/v/index.m3u8")

	rec := serve(HandleVideoDownload(e.download), "/?name=clip", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[a1.ts][a2.ts]", rec.Body.String())
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="clip.ts"`)
}

func TestVideoDownloadFailureIsEnvelope(t *testing.T) {
	e := newEnv(t)
	token := clue.CreateParams(e.upstream.URL + "/missing.m3u8")

	rec := serve(HandleVideoDownload(e.download), "/", map[string]string{"token": token})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, -1, envelope(t, rec).Code)
}

func TestHealth(t *testing.T) {
	rec := serve(HandleHealth(), "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
