package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"media-relay/work/buffer"
	"media-relay/work/client"
	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/metrics"
	"media-relay/work/music"
	"media-relay/work/parser"
	"media-relay/work/types"
	"media-relay/work/utils"

	"github.com/grafana/regexp"
	"github.com/panjf2000/ants/v2"
)

// audioTypeRegex lists the upstream content types accepted for audio responses.
var audioTypeRegex = regexp.MustCompile(`(?i)audio/mpeg|application/octet-stream`)

var (
	// mediaHeaders are relayed from upstream audio and poster responses.
	mediaHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Cache-Control", "Last-Modified", "Etag"}

	// genericHeaders are relayed by the pass-through proxy. Accept-Ranges and
	// Content-Length are added separately when the body is relayed as received.
	genericHeaders = []string{"Content-Type", "Cache-Control", "Content-Range"}

	// manifestHeaders are relayed with rewritten playlists.
	manifestHeaders = []string{"Content-Type", "Content-Range", "Accept-Ranges", "Connection"}
)

// StreamProxy serves media to clients: it relays audio and posters, rewrites HLS
// manifests and forwards arbitrary upstream resources.
type StreamProxy struct {
	Config     *config.Config              // application configuration
	HttpClient *client.HeaderSettingClient // upstream client with default headers and rate limits
	WorkerPool *ants.Pool                  // shared pool for chunked downloads
	BufferPool *buffer.BufferPool          // copy buffers and download assembly
	Music      *music.Service              // resolves song ids and tokens to upstream URLs
	Engine     *parser.Engine              // HLS manifest resolution
	Downloader *ChunkedDownloader          // whole-file downloads without a client Range
}

// New wires a StreamProxy.
func New(cfg *config.Config, bufferPool *buffer.BufferPool, httpClient *client.HeaderSettingClient, workerPool *ants.Pool, musicService *music.Service) *StreamProxy {
	logger.Debug("{proxy/proxy - New} Initializing stream proxy (dev: %v, max chunk: %d)", cfg.Dev, cfg.MaxChunkSize)

	return &StreamProxy{
		Config:     cfg,
		HttpClient: httpClient,
		WorkerPool: workerPool,
		BufferPool: bufferPool,
		Music:      musicService,
		Engine:     parser.NewEngine(httpClient, cfg),
		Downloader: NewChunkedDownloader(httpClient, workerPool, bufferPool, cfg.MaxChunkSize),
	}
}

// relayOptions shapes how an upstream response is handed to the client.
type relayOptions struct {
	kind         string   // metrics label
	headers      []string // upstream headers copied to the client
	clampRange   bool     // bound the client Range to a quarter of MaxChunkSize
	normalize    bool     // turn whole-resource 206 answers into 200
	plainLength  bool     // copy Accept-Ranges and Content-Length when the body is not re-encoded
	acceptType   *regexp.Regexp
	contentType  string // forced Content-Type
	acceptRanges string // forced Accept-Ranges
	disposition  string // Content-Disposition value, empty for inline
}

// relay fetches target, forwarding the client's Range header, and streams the response
// to w. A returned error means nothing was written to w yet.
func (sp *StreamProxy) relay(w http.ResponseWriter, r *http.Request, target string, opts relayOptions) error {
	clientRange := r.Header.Get("Range")
	header := http.Header{}
	if clientRange != "" {
		upstreamRange := clientRange
		if opts.clampRange {
			upstreamRange = ClampRange(clientRange, sp.Config.MaxChunkSize)
		}
		header.Set("Range", upstreamRange)
	}

	resp, err := sp.HttpClient.GetResponse(r.Context(), target, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: upstream answered 404", types.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", types.ErrUpstream, resp.StatusCode)
	}
	if opts.acceptType != nil && !opts.acceptType.MatchString(resp.Header.Get("Content-Type")) {
		logger.Debug("{proxy/proxy - relay} Rejecting content type %q from %s", resp.Header.Get("Content-Type"), utils.LogURL(sp.Config, target))
		return types.ErrContentType
	}

	status := resp.StatusCode
	dropRange := false
	if opts.normalize {
		status, dropRange = NormalizeStatus(status, resp.Header.Get("Content-Range"), clientRange)
	}

	out := w.Header()
	for _, name := range opts.headers {
		if v := resp.Header.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	if opts.plainLength && !resp.Uncompressed && resp.Header.Get("Content-Encoding") == "" {
		if v := resp.Header.Get("Accept-Ranges"); v != "" {
			out.Set("Accept-Ranges", v)
		}
		if resp.ContentLength >= 0 {
			out.Set("Content-Length", fmt.Sprintf("%d", resp.ContentLength))
		}
	}
	if dropRange {
		out.Del("Content-Range")
	}
	if opts.contentType != "" {
		out.Set("Content-Type", opts.contentType)
	}
	if opts.acceptRanges != "" {
		out.Set("Accept-Ranges", opts.acceptRanges)
	}
	if opts.disposition != "" {
		out.Set("Content-Disposition", opts.disposition)
	} else {
		out.Del("Content-Disposition")
	}

	w.WriteHeader(status)
	sp.stream(w, resp.Body, opts.kind)
	return nil
}

// stream copies body to w through a pooled buffer, flushing after every chunk so that
// players start early.
func (sp *StreamProxy) stream(w http.ResponseWriter, body io.Reader, kind string) {
	metrics.ActiveStreams.WithLabelValues(kind).Inc()
	defer metrics.ActiveStreams.WithLabelValues(kind).Dec()

	buf, release := sp.BufferPool.CopyBuffer()
	defer release()

	flusher, _ := w.(http.Flusher)
	var total int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			written, err := w.Write(buf[:n])
			total += int64(written)
			if err != nil {
				logger.Debug("{proxy/proxy - stream} Client went away after %d bytes: %v", total, err)
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, context.Canceled) {
				logger.Warn("{proxy/proxy - stream} Upstream read failed after %d bytes: %v", total, readErr)
			}
			break
		}
	}
	metrics.BytesTransferred.WithLabelValues(kind).Add(float64(total))
}

// proxyURL returns the pass-through proxy link of target.
func (sp *StreamProxy) proxyURL(target string) string {
	return strings.TrimRight(sp.Config.BaseURL, "/") + "/api/proxy?url=" + url.QueryEscape(target)
}

// validTarget checks that raw is an absolute http(s) URL.
func validTarget(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: invalid url %q", types.ErrBadRequest, raw)
	}
	return u.String(), nil
}
