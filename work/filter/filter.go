package filter

import (
	"strings"
	"sync"

	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/types"

	"github.com/grafana/regexp"
)

// CompiledFilter holds compiled regex patterns for a source
type CompiledFilter struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// FilterManager manages compiled filters for sources
type FilterManager struct {
	filters map[string]*CompiledFilter
	mu      sync.RWMutex
}

// NewFilterManager creates a new filter manager
func NewFilterManager() *FilterManager {
	return &FilterManager{
		filters: make(map[string]*CompiledFilter),
	}
}

// GetOrCreateFilter gets or creates a compiled filter for a source
func (fm *FilterManager) GetOrCreateFilter(source *config.SourceConfig) *CompiledFilter {
	fm.mu.RLock()
	filter, exists := fm.filters[source.ID]
	fm.mu.RUnlock()
	if exists {
		return filter
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	if filter, exists := fm.filters[source.ID]; exists {
		return filter
	}

	// invalid patterns are logged and treated as no filter
	filter = &CompiledFilter{
		Include: compile(source, "includeRegex", source.IncludeRegex),
		Exclude: compile(source, "excludeRegex", source.ExcludeRegex),
	}

	fm.filters[source.ID] = filter
	return filter
}

func compile(source *config.SourceConfig, field, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter/filter - compile} Failed to compile %s '%s' of source %s: %v", field, pattern, source.Name, err)
		return nil
	}
	logger.Debug("{filter/filter - compile} Compiled %s '%s' for source %s", field, pattern, source.Name)
	return compiled
}

// FilterSongs applies the source's include/exclude patterns to "name artist" of each
// song. Songs are returned in their original order.
func FilterSongs(songs []types.Song, source *config.SourceConfig, filterManager *FilterManager) []types.Song {
	if source == nil || (source.IncludeRegex == "" && source.ExcludeRegex == "") {
		return songs
	}

	filter := filterManager.GetOrCreateFilter(source)
	filtered := make([]types.Song, 0, len(songs))

	for _, song := range songs {
		if shouldIncludeSong(song, filter) {
			filtered = append(filtered, song)
		}
	}
	logger.Debug("{filter/filter - FilterSongs} Filtered %d -> %d songs for source %s", len(songs), len(filtered), source.Name)

	return filtered
}

// shouldIncludeSong checks include first (must match when set), then exclude.
func shouldIncludeSong(song types.Song, filter *CompiledFilter) bool {
	subject := strings.TrimSpace(song.Name + " " + song.Artist)

	if filter.Include != nil && !filter.Include.MatchString(subject) {
		return false
	}
	if filter.Exclude != nil && filter.Exclude.MatchString(subject) {
		return false
	}
	return true
}
