package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UpstreamRequests counts completed upstream requests by host and HTTP status.
var UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_relay_upstream_requests_total",
	Help: "Upstream requests by host and status code",
}, []string{"host", "status"})

// UpstreamErrors counts upstream requests that failed before a response arrived.
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_relay_upstream_errors_total",
	Help: "Upstream request failures",
}, []string{"host", "error_type"})

// CookieRetries counts the one-shot 403 cookie retries.
var CookieRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_relay_cookie_retries_total",
	Help: "Requests retried with a cookie captured from a 403 response",
}, []string{"host"})

// AdapterSearches tracks search outcomes per source adapter. The "result" label is
// one of ok, empty, error or panic.
var AdapterSearches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_relay_adapter_searches_total",
	Help: "Adapter search calls by outcome",
}, []string{"source", "result"})

// AdapterLatency observes how long each adapter search took.
var AdapterLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "media_relay_adapter_search_seconds",
	Help:    "Adapter search latency",
	Buckets: prometheus.DefBuckets,
}, []string{"source"})

// Resolutions counts stream/poster/lyric lookups by kind and whether they were served
// from the cache.
var Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_relay_resolutions_total",
	Help: "Stream, poster and lyric resolutions",
}, []string{"kind", "cache"})

// BytesTransferred tracks bytes relayed to clients per endpoint kind.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_relay_bytes_transferred_total",
	Help: "Total bytes relayed to clients",
}, []string{"kind"})

// ActiveStreams is the number of media responses currently being relayed.
var ActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "media_relay_active_streams",
	Help: "Media responses currently in flight",
}, []string{"kind"})

// AdSegmentsRemoved counts playlist segments dropped by the ad filter.
var AdSegmentsRemoved = promauto.NewCounter(prometheus.CounterOpts{
	Name: "media_relay_ad_segments_removed_total",
	Help: "Segments removed from playlists as ad breaks",
})

// PlaylistHops observes how many nested playlists were followed per resolution.
var PlaylistHops = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "media_relay_playlist_hops",
	Help:    "Nested playlist references followed per manifest resolution",
	Buckets: []float64{0, 1, 2, 3, 4, 5},
})

// SegmentDownloads counts video segment fetches by result: ok, retry or failed.
var SegmentDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "media_relay_segment_downloads_total",
	Help: "Video segment fetches by result",
}, []string{"result"})
