package restream

import (
	"sync"

	"media-relay/work/logger"
)

/**
 * SegmentTracker remembers the segment URLs already queued for a download so that
 * playlists repeating a segment (common after ad splicing) do not write it twice.
 *
 * It is a fixed-size circular buffer: once full, the oldest entry is evicted, keeping
 * memory bounded for very long playlists.
 */
type SegmentTracker struct {
	segments    []string       // Circular buffer of segment URLs
	segmentMap  map[string]int // Maps segment URL to position in buffer
	head        int            // Next write position
	maxSize     int            // Capacity
	currentSize int            // Entries in use
	mutex       sync.RWMutex
}

/**
 * NewSegmentTracker creates a tracker holding at most maxSize URLs.
 */
func NewSegmentTracker(maxSize int) *SegmentTracker {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &SegmentTracker{
		segments:   make([]string, maxSize),
		segmentMap: make(map[string]int, maxSize),
		maxSize:    maxSize,
	}
}

/**
 * HasProcessed reports whether segmentURL is tracked.
 */
func (st *SegmentTracker) HasProcessed(segmentURL string) bool {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	_, exists := st.segmentMap[segmentURL]
	return exists
}

/**
 * MarkProcessed tracks segmentURL, evicting the oldest entry when full.
 */
func (st *SegmentTracker) MarkProcessed(segmentURL string) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.currentSize >= st.maxSize {
		if old := st.segments[st.head]; old != "" {
			delete(st.segmentMap, old)
			logger.Debug("{restream/tracker - MarkProcessed} Evicting segment at position %d", st.head)
		}
	} else {
		st.currentSize++
	}

	st.segments[st.head] = segmentURL
	st.segmentMap[segmentURL] = st.head
	st.head = (st.head + 1) % st.maxSize
}

/**
 * Size returns the number of tracked segments.
 */
func (st *SegmentTracker) Size() int {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return st.currentSize
}
