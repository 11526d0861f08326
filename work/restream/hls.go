package restream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"media-relay/work/client"
	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/metrics"
	"media-relay/work/parser"
	"media-relay/work/textutil"
	"media-relay/work/types"
	"media-relay/work/utils"

	"github.com/panjf2000/ants/v2"
)

const (
	// maxSegmentSize bounds a single segment read into memory.
	maxSegmentSize = 64 << 20

	// maxTrackedSegments bounds the duplicate segment tracker.
	maxTrackedSegments = 4096

	// retryDelay is the pause before a failed segment is requested again.
	retryDelay = 200 * time.Millisecond
)

// ErrSegmentFailed is returned once a segment exhausted its attempts.
var ErrSegmentFailed = errors.New("segment download failed")

/**
 * Downloader turns an HLS playlist into one concatenated transport stream.
 *
 * The playlist is resolved down to a media playlist and stripped of ad breaks, then the
 * segments are fetched in windows of parallel requests on the shared worker pool. Each
 * window is written in playlist order before the next one starts, so at most one
 * window of segments is held in memory.
 */
type Downloader struct {
	client   *client.HeaderSettingClient
	engine   *parser.Engine
	pool     *ants.Pool
	config   *config.Config
	window   int
	maxRetry int
}

/**
 * NewDownloader wires a Downloader. The window is the worker pool size and every
 * segment is attempted up to cfg.SegmentMaxRetry times.
 */
func NewDownloader(hc *client.HeaderSettingClient, engine *parser.Engine, pool *ants.Pool, cfg *config.Config) *Downloader {
	window := cfg.WorkerThreads
	if window <= 0 {
		window = 4
	}
	maxRetry := cfg.SegmentMaxRetry
	if maxRetry <= 0 {
		maxRetry = 1
	}
	return &Downloader{
		client:   hc,
		engine:   engine,
		pool:     pool,
		config:   cfg,
		window:   window,
		maxRetry: maxRetry,
	}
}

/**
 * Segments resolves playlistURL and returns the absolute URLs of its segments with ad
 * breaks removed, tracking wrappers unwrapped and duplicates dropped.
 */
func (d *Downloader) Segments(ctx context.Context, playlistURL string) ([]string, error) {
	parsed, err := d.engine.Resolve(ctx, playlistURL)
	if err != nil {
		return nil, err
	}

	opts := parser.AdOptions{RunLength: d.config.AdRunLength, IndexGap: d.config.AdIndexGap}
	content, removed := parser.RemoveAds(parsed.Content, func(uri string) string {
		return textutil.ResolveURL(parsed.URL, uri)
	}, opts)

	tracker := NewSegmentTracker(maxTrackedSegments)
	var segments []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if unwrapped := unwrapTrackingURL(line); unwrapped != "" {
			line = unwrapped
		}
		if tracker.HasProcessed(line) {
			continue
		}
		tracker.MarkProcessed(line)
		segments = append(segments, line)
	}

	logger.Debug("{restream/hls - Segments} %s: %d segments, %d ad segments removed",
		utils.LogURL(d.config, parsed.URL), len(segments), removed)

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: playlist has no segments", types.ErrNotFound)
	}
	return segments, nil
}

/**
 * Download writes every segment of playlistURL to w in order and returns the number of
 * bytes written. Nothing is written when the first window fails.
 */
func (d *Downloader) Download(ctx context.Context, playlistURL string, w io.Writer) (int64, error) {
	segments, err := d.Segments(ctx, playlistURL)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var written int64
	for start := 0; start < len(segments); start += d.window {
		end := min(start+d.window, len(segments))
		batch := segments[start:end]

		parts := make([][]byte, len(batch))
		errs := make([]error, len(batch))

		var wg sync.WaitGroup
		for i, segmentURL := range batch {
			wg.Add(1)
			task := func() {
				defer wg.Done()
				parts[i], errs[i] = d.fetchSegment(ctx, segmentURL, d.maxRetry)
				if errs[i] != nil {
					cancel()
				}
			}
			if err := d.pool.Submit(task); err != nil {
				logger.Debug("{restream/hls - Download} Pool rejected segment, running inline goroutine: %v", err)
				go task()
			}
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				return written, fmt.Errorf("segment %d: %w", start+i, err)
			}
		}

		for _, part := range parts {
			n, err := w.Write(part)
			written += int64(n)
			metrics.BytesTransferred.WithLabelValues("video").Add(float64(n))
			if err != nil {
				return written, err
			}
		}
	}

	logger.Debug("{restream/hls - Download} Wrote %d segments (%d bytes) for %s",
		len(segments), written, utils.LogURL(d.config, playlistURL))
	return written, nil
}

/**
 * fetchSegment downloads one segment, retrying itself until attemptsLeft runs out.
 * Exhausting the attempts is terminal and wraps ErrSegmentFailed.
 */
func (d *Downloader) fetchSegment(ctx context.Context, segmentURL string, attemptsLeft int) ([]byte, error) {
	data, err := d.getSegment(ctx, segmentURL)
	if err == nil {
		metrics.SegmentDownloads.WithLabelValues("ok").Inc()
		return data, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	attemptsLeft--
	if attemptsLeft <= 0 {
		metrics.SegmentDownloads.WithLabelValues("failed").Inc()
		logger.Error("{restream/hls - fetchSegment} Giving up on %s: %v", utils.LogURL(d.config, segmentURL), err)
		return nil, fmt.Errorf("%w: %s: %v", ErrSegmentFailed, utils.LogURL(d.config, segmentURL), err)
	}

	metrics.SegmentDownloads.WithLabelValues("retry").Inc()
	logger.Warn("{restream/hls - fetchSegment} Retrying %s (%d attempts left): %v", utils.LogURL(d.config, segmentURL), attemptsLeft, err)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retryDelay):
	}
	return d.fetchSegment(ctx, segmentURL, attemptsLeft)
}

func (d *Downloader) getSegment(ctx context.Context, segmentURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.StreamTimeout)
	defer cancel()

	resp, err := d.client.GetResponse(ctx, segmentURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", types.ErrUpstream, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSegmentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading segment: %v", types.ErrUpstream, err)
	}
	return data, nil
}

/**
 * unwrapTrackingURL extracts the real segment URL from tracking or beacon wrappers
 * that carry it in a redirect_url parameter. It returns "" when segmentURL is not
 * wrapped.
 */
func unwrapTrackingURL(segmentURL string) string {
	if !strings.Contains(segmentURL, "redirect_url=") {
		return ""
	}
	parsed, err := url.Parse(segmentURL)
	if err != nil {
		logger.Warn("{restream/hls - unwrapTrackingURL} Failed to parse wrapped URL: %v", err)
		return ""
	}
	return parsed.Query().Get("redirect_url")
}
