package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"media-relay/work/buffer"
	"media-relay/work/client"
	"media-relay/work/logger"
	"media-relay/work/types"

	"github.com/panjf2000/ants/v2"
	"github.com/valyala/bytebufferpool"
)

// maxDownloadChunks caps whole-file downloads at maxDownloadChunks chunks.
const maxDownloadChunks = 256

// ChunkedDownloader fetches a whole upstream file as parallel ranged requests and
// assembles the parts in order.
type ChunkedDownloader struct {
	client    *client.HeaderSettingClient
	pool      *ants.Pool
	buffers   *buffer.BufferPool
	chunkSize int64
	maxSize   int64
}

// NewChunkedDownloader creates a downloader whose chunks are a quarter of maxChunk.
func NewChunkedDownloader(hc *client.HeaderSettingClient, pool *ants.Pool, buffers *buffer.BufferPool, maxChunk int64) *ChunkedDownloader {
	chunkSize := maxChunk / 4
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	return &ChunkedDownloader{
		client:    hc,
		pool:      pool,
		buffers:   buffers,
		chunkSize: chunkSize,
		maxSize:   chunkSize * maxDownloadChunks,
	}
}

// Download fetches rawURL completely. The first chunk is probed to learn the total size
// from Content-Range, the rest are fetched in parallel. The caller owns the returned
// buffer and must give it back with buffers.Put; the header is that of the probe.
func (d *ChunkedDownloader) Download(ctx context.Context, rawURL string) (*bytebufferpool.ByteBuffer, http.Header, error) {
	resp, err := d.fetchRange(ctx, rawURL, 0, d.chunkSize-1)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	// no range support: the body is the whole file
	if resp.StatusCode == http.StatusOK {
		buf := d.buffers.Get()
		n, err := buf.ReadFrom(io.LimitReader(resp.Body, d.maxSize+1))
		if err != nil {
			d.buffers.Put(buf)
			return nil, nil, fmt.Errorf("%w: reading body: %v", types.ErrUpstream, err)
		}
		if n > d.maxSize {
			d.buffers.Put(buf)
			return nil, nil, fmt.Errorf("%w: file exceeds %d bytes", types.ErrUpstream, d.maxSize)
		}
		return buf, resp.Header, nil
	}

	cr, ok := ParseContentRange(resp.Header.Get("Content-Range"))
	if !ok || cr.Start != 0 || cr.Total < 0 {
		return nil, nil, fmt.Errorf("%w: unusable content-range %q", types.ErrUpstream, resp.Header.Get("Content-Range"))
	}
	if cr.End != min(d.chunkSize, cr.Total)-1 {
		return nil, nil, fmt.Errorf("%w: first chunk ends at %d", types.ErrUpstream, cr.End)
	}
	if cr.Total > d.maxSize {
		return nil, nil, fmt.Errorf("%w: file exceeds %d bytes", types.ErrUpstream, d.maxSize)
	}

	first, err := readExactly(resp.Body, cr.End-cr.Start+1)
	if err != nil {
		return nil, nil, err
	}

	count := int((cr.Total + d.chunkSize - 1) / d.chunkSize)
	logger.Debug("{proxy/download - Download} %d bytes in %d chunks of %d", cr.Total, count, d.chunkSize)

	parts := make([][]byte, count)
	parts[0] = first
	errs := make([]error, count)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 1; i < count; i++ {
		start := int64(i) * d.chunkSize
		end := min(start+d.chunkSize, cr.Total) - 1

		wg.Add(1)
		task := func() {
			defer wg.Done()
			parts[i], errs[i] = d.fetchChunk(ctx, rawURL, start, end)
			if errs[i] != nil {
				cancel()
			}
		}
		if err := d.pool.Submit(task); err != nil {
			logger.Debug("{proxy/download - Download} Pool rejected chunk %d, running inline goroutine: %v", i, err)
			go task()
		}
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	buf := d.buffers.Get()
	for _, part := range parts {
		buf.Write(part)
	}
	return buf, resp.Header, nil
}

func (d *ChunkedDownloader) fetchRange(ctx context.Context, rawURL string, start, end int64) (*http.Response, error) {
	header := http.Header{"Range": {fmt.Sprintf("bytes=%d-%d", start, end)}}
	resp, err := d.client.GetResponse(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: upstream answered 404", types.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: HTTP %d", types.ErrUpstream, resp.StatusCode)
	}
	return resp, nil
}

func (d *ChunkedDownloader) fetchChunk(ctx context.Context, rawURL string, start, end int64) ([]byte, error) {
	resp, err := d.fetchRange(ctx, rawURL, start, end)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	cr, ok := ParseContentRange(resp.Header.Get("Content-Range"))
	if resp.StatusCode != http.StatusPartialContent || !ok || cr.Start != start {
		return nil, fmt.Errorf("%w: range %d-%d not honored", types.ErrUpstream, start, end)
	}
	return readExactly(resp.Body, end-start+1)
}

func readExactly(r io.Reader, n int64) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: short chunk: %v", types.ErrUpstream, err)
	}
	return b, nil
}
