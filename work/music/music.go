// Package music aggregates the registered source adapters: fan-out search, token or
// composite id routing and cached resolution of stream, poster and lyric lookups.
package music

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"media-relay/work/adapter"
	"media-relay/work/cache"
	"media-relay/work/clue"
	"media-relay/work/config"
	"media-relay/work/filter"
	"media-relay/work/logger"
	"media-relay/work/metrics"
	"media-relay/work/types"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/singleflight"
)

// Service routes music requests to adapters.
type Service struct {
	config   *config.Config
	registry *adapter.Registry
	pool     *ants.Pool
	cache    *cache.Cache // nil when caching is disabled
	filters  *filter.FilterManager
	group    singleflight.Group
}

// NewService wires a Service. cacheInstance may be nil.
func NewService(cfg *config.Config, registry *adapter.Registry, pool *ants.Pool, cacheInstance *cache.Cache) *Service {
	return &Service{
		config:   cfg,
		registry: registry,
		pool:     pool,
		cache:    cacheInstance,
		filters:  filter.NewFilterManager(),
	}
}

// Registry exposes the adapter registry.
func (s *Service) Registry() *adapter.Registry {
	return s.registry
}

// Search queries every adapter concurrently and returns their results in registry
// order. An adapter that errors or panics contributes nothing; Search itself never
// fails.
func (s *Service) Search(ctx context.Context, keyword string) []types.SearchResult {
	adapters := s.registry.All()
	contributions := make([][]types.SearchResult, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			contributions[i] = s.searchOne(ctx, a, keyword)
		}
		if err := s.pool.Submit(task); err != nil {
			logger.Warn("{music/music - Search} Worker pool rejected %s search, running inline: %v", a.Name(), err)
			go task()
		}
	}
	wg.Wait()

	total := 0
	for _, c := range contributions {
		total += len(c)
	}
	results := make([]types.SearchResult, 0, total)
	for _, c := range contributions {
		results = append(results, c...)
	}

	logger.Debug("{music/music - Search} %q: %d results from %d sources", keyword, len(results), len(adapters))
	return results
}

func (s *Service) searchOne(ctx context.Context, a adapter.Adapter, keyword string) (results []types.SearchResult) {
	start := time.Now()
	defer func() {
		metrics.AdapterLatency.WithLabelValues(a.ID()).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			logger.Error("{music/music - searchOne} Adapter %s panicked: %v", a.Name(), r)
			metrics.AdapterSearches.WithLabelValues(a.ID(), "panic").Inc()
			results = nil
		}
	}()

	songs, err := a.Search(ctx, keyword)
	if err != nil {
		logger.Warn("{music/music - searchOne} Adapter %s search failed: %v", a.Name(), err)
		metrics.AdapterSearches.WithLabelValues(a.ID(), "error").Inc()
		return nil
	}

	songs = filter.FilterSongs(songs, s.config.GetSource(a.ID()), s.filters)
	if len(songs) == 0 {
		metrics.AdapterSearches.WithLabelValues(a.ID(), "empty").Inc()
		return nil
	}
	metrics.AdapterSearches.WithLabelValues(a.ID(), "ok").Inc()

	results = make([]types.SearchResult, 0, len(songs))
	for _, song := range songs {
		if song.UpstreamID == "" {
			continue
		}
		results = append(results, s.toResult(a.ID(), song))
	}
	return results
}

func (s *Service) toResult(sourceID string, song types.Song) types.SearchResult {
	token := clue.Create(sourceID, song.UpstreamID)
	base := strings.TrimRight(s.config.BaseURL, "/")
	return types.SearchResult{
		ID:     adapter.CompositeID(sourceID, song.UpstreamID),
		Name:   song.Name,
		Artist: song.Artist,
		URL:    base + "/api/music/play/" + token,
		Poster: base + "/api/music/poster/" + token,
	}
}

// Resolve finds the adapter and upstream id addressed by a clue token or, failing
// that, by a raw composite id.
func (s *Service) Resolve(idOrToken string) (adapter.Adapter, string, error) {
	if c, ok := clue.Parse(idOrToken); ok && c.ID != "" {
		if a, found := s.registry.Get(c.API); found {
			return a, c.ID, nil
		}
	}
	if sourceID, upstreamID, ok := adapter.ParseCompositeID(idOrToken); ok {
		if a, found := s.registry.Get(sourceID); found {
			return a, upstreamID, nil
		}
	}
	return nil, "", fmt.Errorf("%w: no source for %q", types.ErrNotFound, idOrToken)
}

// StreamURL resolves the media URL of a song.
func (s *Service) StreamURL(ctx context.Context, idOrToken string) (string, error) {
	a, id, err := s.Resolve(idOrToken)
	if err != nil {
		return "", err
	}
	return s.cached(ctx, "stream", a, id, func(ctx context.Context) (string, error) {
		return a.StreamURL(ctx, id)
	})
}

// ForgetStream drops the cached media URL of a song, so the next request resolves it
// again. Signed upstream URLs expire before the cache entry does.
func (s *Service) ForgetStream(idOrToken string) {
	a, id, err := s.Resolve(idOrToken)
	if err != nil {
		return
	}
	s.cache.Invalidate(cache.Key("stream", a.ID(), id))
}

// Poster resolves the cover image URL of a song.
func (s *Service) Poster(ctx context.Context, idOrToken string) (string, error) {
	a, id, err := s.Resolve(idOrToken)
	if err != nil {
		return "", err
	}
	return s.cached(ctx, "poster", a, id, func(ctx context.Context) (string, error) {
		return a.Poster(ctx, id)
	})
}

// Lyrics resolves the time ordered lyric of a song.
func (s *Service) Lyrics(ctx context.Context, idOrToken string) ([]types.LyricLine, error) {
	a, id, err := s.Resolve(idOrToken)
	if err != nil {
		return nil, err
	}
	raw, err := s.cached(ctx, "lyric", a, id, func(ctx context.Context) (string, error) {
		lines, err := a.Lyrics(ctx, id)
		if err != nil {
			return "", err
		}
		if lines == nil {
			lines = []types.LyricLine{}
		}
		b, err := json.Marshal(lines)
		return string(b), err
	})
	if err != nil {
		return nil, err
	}

	var lines []types.LyricLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// cached serves kind lookups from the cache, collapsing concurrent identical lookups
// into a single upstream call. The shared call runs detached from the caller that
// started it, bounded by the stream timeout; each caller still stops waiting when its
// own ctx ends.
func (s *Service) cached(ctx context.Context, kind string, a adapter.Adapter, id string, fetch func(context.Context) (string, error)) (string, error) {
	key := cache.Key(kind, a.ID(), id)
	if v, ok := s.cache.Get(key); ok {
		metrics.Resolutions.WithLabelValues(kind, "hit").Inc()
		return v, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.StreamTimeout)
		defer cancel()

		v, err := fetch(fetchCtx)
		if err != nil {
			return "", err
		}
		s.cache.Set(key, v)
		return v, nil
	})
	metrics.Resolutions.WithLabelValues(kind, "miss").Inc()

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if res.Err != nil {
		logger.Debug("{music/music - cached} %s of %s/%s failed: %v", kind, a.Name(), id, res.Err)
		return "", res.Err
	}
	if res.Shared {
		logger.Debug("{music/music - cached} %s of %s/%s shared with a concurrent request", kind, a.Name(), id)
	}
	return res.Val.(string), nil
}
