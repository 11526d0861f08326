// Package adapter defines the contract every upstream music site implements and the
// registry that routes composite ids to them.
package adapter

import (
	"context"
	"fmt"

	"media-relay/work/client"
	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/types"
)

// Adapter is a scraping strategy for one upstream music site. Implementations share no
// behavior, only this shape.
type Adapter interface {
	// ID returns the single character source id used as composite id prefix.
	ID() string

	// Name returns a human readable site name.
	Name() string

	// Host returns the upstream hostname; lyric lines mentioning it are watermarks.
	Host() string

	// Search returns every song the site lists for keyword, across all result pages.
	Search(ctx context.Context, keyword string) ([]types.Song, error)

	// StreamURL resolves the direct media URL of a song.
	StreamURL(ctx context.Context, upstreamID string) (string, error)

	// Poster resolves the cover image URL of a song.
	Poster(ctx context.Context, upstreamID string) (string, error)

	// Lyrics resolves the time ordered lyric of a song.
	Lyrics(ctx context.Context, upstreamID string) ([]types.LyricLine, error)
}

// Factory builds the adapter of one configured source.
type Factory func(src config.SourceConfig, hc *client.HeaderSettingClient, cfg *config.Config) Adapter

// Registry is a flat lookup from source id to adapter. It is filled once at startup
// and only read afterwards.
type Registry struct {
	adapters map[string]Adapter
	order    []Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds a. Ids must be a single character and unique.
func (r *Registry) Register(a Adapter) error {
	id := a.ID()
	if len(id) != 1 {
		return fmt.Errorf("adapter %s: id %q must be a single character", a.Name(), id)
	}
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("adapter %s: id %q already registered", a.Name(), id)
	}
	r.adapters[id] = a
	r.order = append(r.order, a)
	return nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// All returns the adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.order)
}

// Build registers an adapter for every enabled source whose name has a factory.
// Sources without a factory are skipped with a warning.
func Build(cfg *config.Config, hc *client.HeaderSettingClient, factories map[string]Factory) (*Registry, error) {
	r := NewRegistry()
	for _, src := range cfg.Sources {
		if !src.Enabled {
			logger.Debug("{adapter/adapter - Build} Source %s (%s) disabled", src.ID, src.Name)
			continue
		}
		factory, ok := factories[src.Name]
		if !ok {
			logger.Warn("{adapter/adapter - Build} No adapter named %q for source %s", src.Name, src.ID)
			continue
		}
		if err := r.Register(factory(src, hc, cfg)); err != nil {
			return nil, err
		}
		logger.Info("{adapter/adapter - Build} Registered source %s: %s (%s)", src.ID, src.Name, src.BaseURL)
	}
	return r, nil
}

// ParseCompositeID splits a composite id into its source id (first character) and the
// upstream id (the rest). Both parts must be non-empty.
func ParseCompositeID(id string) (sourceID, upstreamID string, ok bool) {
	if len(id) < 2 {
		return "", "", false
	}
	return id[:1], id[1:], true
}

// CompositeID joins a source id and an upstream id.
func CompositeID(sourceID, upstreamID string) string {
	return sourceID + upstreamID
}
