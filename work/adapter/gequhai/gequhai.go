// Package gequhai scrapes the gequhai music site. Media URLs are only exposed through
// a redirect whose Location header the site sends with its UTF-8 bytes re-encoded as
// Latin-1; lyrics are separate .lrc files that may be UTF-16.
package gequhai

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
	songRegex   = regexp.MustCompile(`(?s)<a href="/play/(\d+)"[^>]*title="([^"]*)"[^>]*>.*?<span class="singer">(.*?)</span>`)
	pageRegex   = regexp.MustCompile(`href="/s/[^"/]+/(\d+)"`)
	posterRegex = regexp.MustCompile(`<meta\s+property="og:image"\s+content="([^"]+)"`)
)

// Adapter implements adapter.Adapter for gequhai.
type Adapter struct {
	id       string
	name     string
	baseURL  string
	host     string
	maxPages int
	client   *client.HeaderSettingClient
}

// New builds the gequhai adapter for src.
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

func (a *Adapter) Search(ctx context.Context, keyword string) ([]types.Song, error) {
	searchURL := a.baseURL + "/s/" + url.PathEscape(keyword)

	body, ok := a.client.GetText(ctx, searchURL)
	if !ok {
		return nil, fmt.Errorf("%w: %s search", types.ErrUpstream, a.name)
	}

	songs := parseSongs(body)
	pages := 1
	for _, m := range pageRegex.FindAllStringSubmatch(body, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > pages {
			pages = n
		}
	}
	pages = min(pages, a.maxPages)

	for page := 2; page <= pages; page++ {
		body, ok := a.client.GetText(ctx, searchURL+"/"+strconv.Itoa(page))
		if !ok {
			break
		}
		songs = append(songs, parseSongs(body)...)
	}

	logger.Debug("{gequhai/gequhai - Search} %q: %d songs over %d pages", keyword, len(songs), pages)
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

// StreamURL recovers the media URL from the play endpoint's redirect without following
// it, repairing the mis-encoded Location header first.
func (a *Adapter) StreamURL(ctx context.Context, upstreamID string) (string, error) {
	header := http.Header{"Referer": {a.baseURL + "/play/" + upstreamID}}
	location, err := a.client.GetLocation(ctx, a.baseURL+"/api/play/"+url.PathEscape(upstreamID), header)
	if err != nil {
		return "", err
	}

	fixed := textutil.FixLatin1Mojibake(location)
	if fixed != location {
		logger.Debug("{gequhai/gequhai - StreamURL} Repaired Location header of %s", upstreamID)
	}
	return textutil.ResolveURL(a.baseURL+"/", fixed), nil
}

// Poster reads og:image of the play page.
func (a *Adapter) Poster(ctx context.Context, upstreamID string) (string, error) {
	body, ok := a.client.GetText(ctx, a.baseURL+"/play/"+url.PathEscape(upstreamID))
	if !ok {
		return "", fmt.Errorf("%w: %s play page of %s", types.ErrUpstream, a.name, upstreamID)
	}
	m := posterRegex.FindStringSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("%w: %s has no poster for %s", types.ErrNotFound, a.name, upstreamID)
	}
	return textutil.ResolveURL(a.baseURL+"/", m[1]), nil
}

// Lyrics downloads the .lrc file of the song.
func (a *Adapter) Lyrics(ctx context.Context, upstreamID string) ([]types.LyricLine, error) {
	body, ok := a.client.GetText(ctx, a.baseURL+"/lrc/"+url.PathEscape(upstreamID)+".lrc")
	if !ok {
		return nil, fmt.Errorf("%w: %s lyric of %s", types.ErrUpstream, a.name, upstreamID)
	}
	return lyric.Parse(textutil.DecodeText([]byte(body)), a.host), nil
}
