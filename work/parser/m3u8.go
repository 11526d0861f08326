package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"media-relay/work/client"
	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/metrics"
	"media-relay/work/textutil"
	"media-relay/work/types"
	"media-relay/work/utils"

	"github.com/grafana/regexp"
)

// maxPlaylistSize bounds how much of a manifest is read.
const maxPlaylistSize = 4 << 20

var (
	// ErrPlaylistDepth is returned when a manifest keeps pointing at further manifests
	// beyond the configured number of hops.
	ErrPlaylistDepth = errors.New("playlist nesting too deep")

	// ErrPlaylistCycle is returned when a manifest points back at one already visited.
	ErrPlaylistCycle = errors.New("playlist reference cycle")
)

// pointerRegex finds a nested manifest reference: a non-tag line naming a .m3u8 file.
var pointerRegex = regexp.MustCompile(`(?m)^[^#\s][^\r\n]*\.m3u8(?:\?[^\r\n]*)?\r?$`)

// Engine fetches HLS manifests and follows them down to a media playlist.
type Engine struct {
	client *client.HeaderSettingClient
	config *config.Config
	master *MasterPlaylistHandler
}

// NewEngine creates an Engine.
func NewEngine(hc *client.HeaderSettingClient, cfg *config.Config) *Engine {
	return &Engine{
		client: hc,
		config: cfg,
		master: NewMasterPlaylistHandler(cfg),
	}
}

// Resolve fetches rawURL and follows master playlists (highest bandwidth variant) and
// pointer manifests until a media playlist is reached. At most MaxPlaylistDepth nested
// references are followed and revisiting a URL is an error.
func (e *Engine) Resolve(ctx context.Context, rawURL string) (*types.M3u8Parsed, error) {
	visited := make(map[string]struct{})
	current := rawURL

	for hops := 0; ; hops++ {
		if _, seen := visited[current]; seen {
			return nil, fmt.Errorf("%w: %w: %s", types.ErrUpstream, ErrPlaylistCycle, utils.LogURL(e.config, current))
		}
		visited[current] = struct{}{}

		content, header, err := e.Fetch(ctx, current)
		if err != nil {
			return nil, err
		}

		next, ok := e.nextReference(content, current)
		if !ok {
			metrics.PlaylistHops.Observe(float64(hops))
			return &types.M3u8Parsed{URL: current, Content: content, Header: header, Hops: hops}, nil
		}

		if hops+1 > e.config.MaxPlaylistDepth {
			return nil, fmt.Errorf("%w: %w: more than %d hops from %s", types.ErrUpstream, ErrPlaylistDepth, e.config.MaxPlaylistDepth, utils.LogURL(e.config, rawURL))
		}
		logger.Debug("{parser/m3u8 - Resolve} hop %d: %s -> %s", hops+1, utils.LogURL(e.config, current), utils.LogURL(e.config, next))
		current = next
	}
}

// nextReference returns the manifest content points at, if any: the best variant of a
// master playlist, or the nested reference of a pointer manifest.
func (e *Engine) nextReference(content, baseURL string) (string, bool) {
	if e.master.IsMasterPlaylist(content) {
		variant, ok := e.master.SelectVariant(e.master.ParseMasterPlaylist(content, baseURL))
		if ok {
			logger.Debug("{parser/m3u8 - nextReference} selected variant %d bps %s", variant.Bandwidth, variant.Resolution)
		}
		return variant.URL, ok
	}
	if e.master.IsMediaPlaylist(content) {
		return "", false
	}
	ref := strings.TrimSpace(pointerRegex.FindString(content))
	if ref == "" {
		return "", false
	}
	return textutil.ResolveURL(baseURL, ref), true
}

// Fetch downloads one manifest. Non-2xx answers are errors.
func (e *Engine) Fetch(ctx context.Context, rawURL string) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.StreamTimeout)
	defer cancel()

	resp, err := e.client.GetResponse(ctx, rawURL, nil)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("%w: HTTP %d fetching playlist %s", types.ErrUpstream, resp.StatusCode, utils.LogURL(e.config, rawURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return "", nil, fmt.Errorf("%w: reading playlist: %v", types.ErrUpstream, err)
	}
	return string(body), resp.Header, nil
}
