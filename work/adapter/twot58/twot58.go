// Package twot58 scrapes the 2t58 music site. Search results come from HTML listing
// pages, stream and poster URLs from the site's play API and lyrics from its lrc
// download endpoint. The site answers 403 to clients without its guard cookie, so page
// fetches go through the one-shot cookie retry.
package twot58

import (
	"context"
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
	// <a href="/song/Ym9keWdk.html" target="_mp3">周杰伦 - 晴天</a>
	songRegex = regexp.MustCompile(`<a href="/song/([A-Za-z0-9_-]+)\.html"[^>]*>([^<]+)</a>`)
	pageRegex = regexp.MustCompile(`href="/so/[^"/]+/(\d+)\.html"`)
)

// playResponse is the JSON answer of /js/play.php.
type playResponse struct {
	Msg   int    `json:"msg"`
	Title string `json:"title"`
	Pic   string `json:"pic"`
	URL   string `json:"url"`
}

// Adapter implements adapter.Adapter for 2t58.
type Adapter struct {
	id       string
	name     string
	baseURL  string
	host     string
	maxPages int
	client   *client.HeaderSettingClient
}

// New builds the 2t58 adapter for src.
func New(src config.SourceConfig, hc *client.HeaderSettingClient, cfg *config.Config) adapter.Adapter {
	return newAdapter(src, hc, cfg.MaxSearchPages)
}

func newAdapter(src config.SourceConfig, hc *client.HeaderSettingClient, maxPages int) *Adapter {
	base := strings.TrimRight(src.BaseURL, "/")
	host := base
	if u, err := url.Parse(base); err == nil {
		host = u.Hostname()
	}
	return &Adapter{
		id:       src.ID,
		name:     src.Name,
		baseURL:  base,
		host:     host,
		maxPages: maxPages,
		client:   hc,
	}
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Name() string { return a.name }
func (a *Adapter) Host() string { return a.host }

func (a *Adapter) searchURL(keyword string, page int) string {
	return fmt.Sprintf("%s/so/%s/%d.html", a.baseURL, url.PathEscape(keyword), page)
}

// Search fetches the first listing page, then every further page it advertises up to
// maxPages, and concatenates the songs in page order.
func (a *Adapter) Search(ctx context.Context, keyword string) ([]types.Song, error) {
	body, ok := a.client.GetTextWithCookieRetry(ctx, a.searchURL(keyword, 1))
	if !ok {
		return nil, fmt.Errorf("%w: %s search page 1", types.ErrUpstream, a.name)
	}

	songs := parseSongs(body)
	pages := min(lastPage(body), a.maxPages)
	logger.Debug("{twot58/twot58 - Search} %q: %d songs on page 1, %d pages", keyword, len(songs), pages)

	for page := 2; page <= pages; page++ {
		body, ok := a.client.GetTextWithCookieRetry(ctx, a.searchURL(keyword, page))
		if !ok {
			logger.Debug("{twot58/twot58 - Search} %q: page %d failed, keeping %d songs", keyword, page, len(songs))
			break
		}
		songs = append(songs, parseSongs(body)...)
	}

	return songs, nil
}

// parseSongs extracts the listing entries of one search page. Titles read
// "artist - name"; entries without the separator have no artist.
func parseSongs(body string) []types.Song {
	matches := songRegex.FindAllStringSubmatch(body, -1)
	songs := make([]types.Song, 0, len(matches))
	for _, m := range matches {
		title := textutil.CleanText(m[2])
		song := types.Song{UpstreamID: m[1], Name: title}
		if artist, name, found := strings.Cut(title, " - "); found {
			song.Artist = strings.TrimSpace(artist)
			song.Name = strings.TrimSpace(name)
		}
		songs = append(songs, song)
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

func (a *Adapter) play(ctx context.Context, upstreamID string) (*playResponse, error) {
	form := url.Values{"id": {upstreamID}, "type": {"music"}}
	header := http.Header{"Referer": {a.baseURL + "/song/" + upstreamID + ".html"}}

	var resp playResponse
	if err := a.client.PostFormJSON(ctx, a.baseURL+"/js/play.php", form, header, &resp); err != nil {
		return nil, err
	}
	if resp.Msg != 1 {
		return nil, fmt.Errorf("%w: %s play api msg=%d for %s", types.ErrNotFound, a.name, resp.Msg, upstreamID)
	}
	return &resp, nil
}

// StreamURL asks the play API for the media URL.
func (a *Adapter) StreamURL(ctx context.Context, upstreamID string) (string, error) {
	resp, err := a.play(ctx, upstreamID)
	if err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("%w: %s has no media url for %s", types.ErrNotFound, a.name, upstreamID)
	}
	return textutil.ResolveURL(a.baseURL+"/", resp.URL), nil
}

// Poster reads the cover from the same play API answer.
func (a *Adapter) Poster(ctx context.Context, upstreamID string) (string, error) {
	resp, err := a.play(ctx, upstreamID)
	if err != nil {
		return "", err
	}
	if resp.Pic == "" {
		return "", fmt.Errorf("%w: %s has no poster for %s", types.ErrNotFound, a.name, upstreamID)
	}
	return textutil.ResolveURL(a.baseURL+"/", resp.Pic), nil
}

// Lyrics downloads the lrc file of the song.
func (a *Adapter) Lyrics(ctx context.Context, upstreamID string) ([]types.LyricLine, error) {
	u := a.baseURL + "/plug/down.php?ac=music&lk=lrc&id=" + url.QueryEscape(upstreamID)
	body, ok := a.client.GetTextWithCookieRetry(ctx, u)
	if !ok {
		return nil, fmt.Errorf("%w: %s lyric for %s", types.ErrUpstream, a.name, upstreamID)
	}
	return lyric.Parse(textutil.DecodeText([]byte(body)), a.host), nil
}
