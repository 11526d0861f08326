package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"media-relay/work/logger"
	"media-relay/work/lyric"
	"media-relay/work/metrics"
	"media-relay/work/parser"
	"media-relay/work/textutil"
	"media-relay/work/types"
	"media-relay/work/utils"

	"github.com/grafana/regexp"
)

// defaultManifestType is sent when the upstream does not name one.
const defaultManifestType = "application/vnd.apple.mpegURL"

// mediaURLRegex finds the first m3u8 or mp4 link embedded in a player page.
var mediaURLRegex = regexp.MustCompile(`https?://[^\s"'<>\\]+?\.(?:m3u8|mp4)(?:\?[^\s"'<>\\]*)?`)

// ServeAudio relays the audio of a song. Range requests are clamped and a 206 covering
// the whole file is answered as 200. With attachment set the response is offered as a
// download named after the name query parameter.
func (sp *StreamProxy) ServeAudio(w http.ResponseWriter, r *http.Request, idOrToken string, attachment bool) {
	target, err := sp.Music.StreamURL(r.Context(), idOrToken)
	if err != nil {
		logger.Debug("{proxy/stream - ServeAudio} Resolving %s failed: %v", idOrToken, err)
		utils.WriteError(w, err)
		return
	}

	opts := relayOptions{
		kind:         "audio",
		headers:      mediaHeaders,
		clampRange:   true,
		normalize:    true,
		acceptType:   audioTypeRegex,
		contentType:  "audio/mpeg",
		acceptRanges: "bytes",
	}
	if attachment {
		opts.disposition = utils.ContentDisposition(downloadName(r, idOrToken, ".mp3"))
	}

	if err := sp.relay(w, r, target, opts); err != nil {
		logger.Warn("{proxy/stream - ServeAudio} Relaying %s failed: %v", utils.LogURL(sp.Config, target), err)
		if errors.Is(err, types.ErrUpstream) || errors.Is(err, types.ErrNotFound) {
			sp.Music.ForgetStream(idOrToken)
		}
		utils.WriteError(w, err)
	}
}

// ServeDownload offers a song as a file. Ranged requests behave like ServeAudio; without
// a Range the file is fetched in parallel chunks and sent in one piece.
func (sp *StreamProxy) ServeDownload(w http.ResponseWriter, r *http.Request, idOrToken string) {
	if r.Header.Get("Range") != "" {
		sp.ServeAudio(w, r, idOrToken, true)
		return
	}

	target, err := sp.Music.StreamURL(r.Context(), idOrToken)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	buf, header, err := sp.Downloader.Download(r.Context(), target)
	if err != nil {
		logger.Warn("{proxy/stream - ServeDownload} Downloading %s failed: %v", utils.LogURL(sp.Config, target), err)
		utils.WriteError(w, err)
		return
	}
	defer sp.BufferPool.Put(buf)

	if !audioTypeRegex.MatchString(header.Get("Content-Type")) {
		utils.WriteError(w, types.ErrContentType)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", utils.ContentDisposition(downloadName(r, idOrToken, ".mp3")))
	w.WriteHeader(http.StatusOK)

	n, err := w.Write(buf.B)
	metrics.BytesTransferred.WithLabelValues("download").Add(float64(n))
	if err != nil {
		logger.Debug("{proxy/stream - ServeDownload} Client went away after %d bytes: %v", n, err)
	}
}

// ServePoster serves the poster of a song. In dev mode the image is streamed through
// the relay, otherwise the client is redirected to the upstream image. Any failure
// redirects to the configured default poster.
func (sp *StreamProxy) ServePoster(w http.ResponseWriter, r *http.Request, idOrToken string) {
	target, err := sp.Music.Poster(r.Context(), idOrToken)
	if err != nil || target == "" {
		logger.Debug("{proxy/stream - ServePoster} No poster for %s: %v", idOrToken, err)
		http.Redirect(w, r, sp.Config.DefaultPoster, http.StatusFound)
		return
	}

	if !sp.Config.Dev {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	opts := relayOptions{kind: "poster", headers: mediaHeaders}
	if err := sp.relay(w, r, target, opts); err != nil {
		logger.Debug("{proxy/stream - ServePoster} Relaying %s failed: %v", utils.LogURL(sp.Config, target), err)
		http.Redirect(w, r, sp.Config.DefaultPoster, http.StatusFound)
	}
}

// ServeLyricDownload sends the lyrics of a song as an .lrc attachment.
func (sp *StreamProxy) ServeLyricDownload(w http.ResponseWriter, r *http.Request, idOrToken string) {
	lines, err := sp.Music.Lyrics(r.Context(), idOrToken)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	body := lyric.Serialize(lines)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Content-Disposition", utils.ContentDisposition(downloadName(r, idOrToken, ".lrc")))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// downloadName returns the name query parameter, or fallback, with ext appended.
func downloadName(r *http.Request, fallback, ext string) string {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = fallback
	}
	if !strings.HasSuffix(strings.ToLower(name), ext) {
		name += ext
	}
	return name
}

// PureManifest resolves rawURL to a media playlist and strips its ad breaks. Segment
// and key URIs become absolute, or in dev mode are routed through the pass-through
// proxy.
func (sp *StreamProxy) PureManifest(ctx context.Context, rawURL string) (string, http.Header, error) {
	target, err := validTarget(rawURL)
	if err != nil {
		return "", nil, err
	}

	parsed, err := sp.Engine.Resolve(ctx, target)
	if err != nil {
		return "", nil, err
	}

	resolve := func(uri string) string {
		abs := textutil.ResolveURL(parsed.URL, uri)
		if sp.Config.Dev {
			return sp.proxyURL(abs)
		}
		return abs
	}

	opts := parser.AdOptions{RunLength: sp.Config.AdRunLength, IndexGap: sp.Config.AdIndexGap}
	content, removed := parser.RemoveAds(parsed.Content, resolve, opts)
	logger.Debug("{proxy/stream - PureManifest} %s: %d hops, %d ad segments removed", utils.LogURL(sp.Config, parsed.URL), parsed.Hops, removed)

	return content, parsed.Header, nil
}

// ServePureManifest writes the ad-free manifest of rawURL.
func (sp *StreamProxy) ServePureManifest(w http.ResponseWriter, r *http.Request, rawURL string) {
	content, header, err := sp.PureManifest(r.Context(), rawURL)
	if err != nil {
		logger.Warn("{proxy/stream - ServePureManifest} %s: %v", utils.LogURL(sp.Config, rawURL), err)
		utils.WriteError(w, err)
		return
	}

	out := w.Header()
	for _, name := range manifestHeaders {
		if v := header.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	if out.Get("Content-Type") == "" {
		out.Set("Content-Type", defaultManifestType)
	}
	out.Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

// ParseMediaURL finds the media URL behind a player page. Direct .m3u8/.mp4 links and
// pages carrying such a link in a url query parameter are answered without a request;
// otherwise the page is fetched and scanned. An empty result means nothing was found.
func (sp *StreamProxy) ParseMediaURL(ctx context.Context, pageURL string) (string, error) {
	target, err := validTarget(pageURL)
	if err != nil {
		return "", err
	}

	u, _ := url.Parse(target)
	if isMediaPath(u) {
		return target, nil
	}
	if embedded := u.Query().Get("url"); embedded != "" {
		if media, err := validTarget(embedded); err == nil {
			if eu, err := url.Parse(media); err == nil && isMediaPath(eu) {
				return media, nil
			}
		}
	}

	page, ok := sp.HttpClient.GetText(ctx, target)
	if !ok {
		return "", fmt.Errorf("%w: fetching player page", types.ErrUpstream)
	}
	return mediaURLRegex.FindString(textutil.UnescapeJSONSlashes(page)), nil
}

// isMediaPath reports whether u points straight at an .m3u8 or .mp4 file.
func isMediaPath(u *url.URL) bool {
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".m3u8", ".mp4":
		return true
	}
	return false
}

// ServeGenericProxy forwards target to the client with a whitelisted set of headers.
func (sp *StreamProxy) ServeGenericProxy(w http.ResponseWriter, r *http.Request, rawURL string) {
	target, err := validTarget(rawURL)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	opts := relayOptions{kind: "proxy", headers: genericHeaders, plainLength: true}
	if err := sp.relay(w, r, target, opts); err != nil {
		logger.Debug("{proxy/stream - ServeGenericProxy} %s: %v", utils.LogURL(sp.Config, target), err)
		utils.WriteError(w, err)
	}
}
