// Package fangpi scrapes the fangpi music site. Its detail pages embed the song record
// as a JSON object assigned to window.appData and carry the lyric inline.
package fangpi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"media-relay/work/adapter"
	"media-relay/work/client"
	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/lyric"
	"media-relay/work/textutil"
	"media-relay/work/types"

	"github.com/grafana/regexp"
)

var (
	songRegex    = regexp.MustCompile(`(?s)<a[^>]+href="/music/(\d+)"[^>]*>\s*<span class="music-title">(.*?)</span>\s*<small[^>]*>(.*?)</small>`)
	pageRegex    = regexp.MustCompile(`href="/s/[^"?]*\?page=(\d+)"`)
	appDataRegex = regexp.MustCompile(`(?s)window\.appData\s*=\s*(\{.*?\})\s*;?\s*</script>`)
	lyricRegex   = regexp.MustCompile(`(?s)<div[^>]+id="content-lrc"[^>]*>(.*?)</div>`)
	breakRegex   = regexp.MustCompile(`(?i)<br\s*/?>|\r?\n`)
)

// appData is the song record embedded in detail pages.
type appData struct {
	ID     string `json:"mp3_id"`
	Title  string `json:"mp3_title"`
	Author string `json:"mp3_author"`
	Cover  string `json:"mp3_cover"`
	PlayID string `json:"play_id"`
}

type playURLResponse struct {
	Code int `json:"code"`
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
	Msg string `json:"msg"`
}

// Adapter implements adapter.Adapter for fangpi.
type Adapter struct {
	id       string
	name     string
	baseURL  string
	host     string
	maxPages int
	client   *client.HeaderSettingClient
}

// New builds the fangpi adapter for src.
func New(src config.SourceConfig, hc *client.HeaderSettingClient, cfg *config.Config) adapter.Adapter {
	return newAdapter(src, hc, cfg.MaxSearchPages)
}

func newAdapter(src config.SourceConfig, hc *client.HeaderSettingClient, maxPages int) *Adapter {
	base := strings.TrimRight(src.BaseURL, "/")
	host := base
	if u, err := url.Parse(base); err == nil {
		host = u.Hostname()
	}
	return &Adapter{id: src.ID, name: src.Name, baseURL: base, host: host, maxPages: maxPages, client: hc}
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Name() string { return a.name }
func (a *Adapter) Host() string { return a.host }

// Search walks the listing pages of keyword.
func (a *Adapter) Search(ctx context.Context, keyword string) ([]types.Song, error) {
	searchURL := a.baseURL + "/s/" + url.PathEscape(keyword)

	body, ok := a.client.GetText(ctx, searchURL)
	if !ok {
		return nil, fmt.Errorf("%w: %s search", types.ErrUpstream, a.name)
	}

	songs := parseSongs(body)
	pages := min(lastPage(body), a.maxPages)

	for page := 2; page <= pages; page++ {
		body, ok := a.client.GetText(ctx, searchURL+"?page="+strconv.Itoa(page))
		if !ok {
			break
		}
		songs = append(songs, parseSongs(body)...)
	}

	logger.Debug("{fangpi/fangpi - Search} %q: %d songs over %d pages", keyword, len(songs), pages)
	return songs, nil
}

func parseSongs(body string) []types.Song {
	matches := songRegex.FindAllStringSubmatch(body, -1)
	songs := make([]types.Song, 0, len(matches))
	for _, m := range matches {
		songs = append(songs, types.Song{
			UpstreamID: m[1],
			Name:       textutil.CleanText(m[2]),
			Artist:     textutil.CleanText(m[3]),
		})
	}
	return songs
}

func lastPage(body string) int {
	last := 1
	for _, m := range pageRegex.FindAllStringSubmatch(body, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > last {
			last = n
		}
	}
	return last
}

// detail fetches the song page and decodes its embedded record and lyric.
func (a *Adapter) detail(ctx context.Context, upstreamID string) (*appData, *types.Song, error) {
	body, ok := a.client.GetText(ctx, a.baseURL+"/music/"+url.PathEscape(upstreamID))
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s detail of %s", types.ErrUpstream, a.name, upstreamID)
	}

	m := appDataRegex.FindStringSubmatch(body)
	if m == nil {
		return nil, nil, fmt.Errorf("%w: %s detail of %s has no app data", types.ErrNotFound, a.name, upstreamID)
	}
	var data appData
	if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
		return nil, nil, fmt.Errorf("%w: %s app data of %s: %v", types.ErrUpstream, a.name, upstreamID, err)
	}

	song := &types.Song{
		UpstreamID: upstreamID,
		Name:       data.Title,
		Artist:     data.Author,
		PosterURL:  data.Cover,
	}
	if lm := lyricRegex.FindStringSubmatch(body); lm != nil {
		rows := breakRegex.Split(lm[1], -1)
		for i, row := range rows {
			rows[i] = textutil.CleanText(row)
		}
		song.Lyric = strings.Join(rows, "\n")
	}
	return &data, song, nil
}

// StreamURL exchanges the detail page's play id for the media URL.
func (a *Adapter) StreamURL(ctx context.Context, upstreamID string) (string, error) {
	data, _, err := a.detail(ctx, upstreamID)
	if err != nil {
		return "", err
	}
	if data.PlayID == "" {
		return "", fmt.Errorf("%w: %s detail of %s has no play id", types.ErrNotFound, a.name, upstreamID)
	}

	header := http.Header{"Referer": {a.baseURL + "/music/" + upstreamID}}
	var resp playURLResponse
	if err := a.client.PostFormJSON(ctx, a.baseURL+"/api/play-url", url.Values{"id": {data.PlayID}}, header, &resp); err != nil {
		return "", err
	}
	if resp.Code != 1 || resp.Data.URL == "" {
		return "", fmt.Errorf("%w: %s play-url of %s: code=%d %s", types.ErrNotFound, a.name, upstreamID, resp.Code, resp.Msg)
	}
	return textutil.ResolveURL(a.baseURL+"/", resp.Data.URL), nil
}

// Poster returns the cover of the embedded record.
func (a *Adapter) Poster(ctx context.Context, upstreamID string) (string, error) {
	_, song, err := a.detail(ctx, upstreamID)
	if err != nil {
		return "", err
	}
	if song.PosterURL == "" {
		return "", fmt.Errorf("%w: %s has no poster for %s", types.ErrNotFound, a.name, upstreamID)
	}
	return textutil.ResolveURL(a.baseURL+"/", song.PosterURL), nil
}

// Lyrics parses the lyric embedded in the detail page.
func (a *Adapter) Lyrics(ctx context.Context, upstreamID string) ([]types.LyricLine, error) {
	_, song, err := a.detail(ctx, upstreamID)
	if err != nil {
		return nil, err
	}
	return lyric.Parse(song.Lyric, a.host), nil
}
