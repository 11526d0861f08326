package types

import (
	"errors"
	"net/http"
)

// Sentinel errors shared across packages. Handlers classify failures with errors.Is
// and translate them into the JSON envelope.
var (
	ErrNotFound    = errors.New("not found")
	ErrBadRequest  = errors.New("bad request")
	ErrUpstream    = errors.New("upstream request failed")
	ErrContentType = errors.New("file not found")
)

// SearchResult is one song returned by the aggregated music search. URL and Poster point
// back at this relay and carry an opaque clue token instead of the upstream identifier.
type SearchResult struct {
	ID     string `json:"id"`     // source id followed by the upstream id
	Name   string `json:"name"`   // song title
	Artist string `json:"artist"` // performer(s)
	URL    string `json:"url"`    // play endpoint
	Poster string `json:"poster"` // poster endpoint
}

// Song is the adapter-level view of an upstream track. Adapters fill in whatever the
// upstream page exposes; fields not known yet stay empty.
type Song struct {
	UpstreamID string
	Name       string
	Artist     string
	MediaURL   string
	PosterURL  string
	Lyric      string // raw lyric blob in [mm:ss.xx]text form
}

// LyricLine is a single timed lyric entry.
type LyricLine struct {
	Time float64 `json:"time"` // seconds, two decimal places
	Text string  `json:"text"`
}

// M3u8Parsed is a terminal media playlist together with the URL it was fetched from,
// which relative URIs inside Content resolve against.
type M3u8Parsed struct {
	URL     string
	Content string
	Header  http.Header // response headers of the final fetch
	Hops    int         // nested playlists followed to reach URL
}

// Envelope is the JSON response shape of every /api endpoint returning data.
type Envelope struct {
	Code int    `json:"code"`
	Data any    `json:"data"`
	Msg  string `json:"msg"`
}

// VideoListItem is a normalized entry of the video aggregation API listing.
type VideoListItem struct {
	Token    string `json:"token"` // clue token (site|id)
	ID       string `json:"id"`
	Name     string `json:"name"`
	Poster   string `json:"poster"`
	Type     string `json:"type"`
	Remarks  string `json:"remarks"`
	Updated  string `json:"updated"`
	Year     string `json:"year,omitempty"`
	Area     string `json:"area,omitempty"`
	Language string `json:"language,omitempty"`
}

// VideoEpisode is one playable entry of a VideoInfo.
type VideoEpisode struct {
	Name  string `json:"name"`
	URL   string `json:"url"`   // upstream media url
	Token string `json:"token"` // clue token of URL for the pure/parse endpoints
}

// VideoInfo is the normalized detail record of a video.
type VideoInfo struct {
	VideoListItem
	Director string          `json:"director"`
	Actor    string          `json:"actor"`
	Content  string          `json:"content"`
	Episodes []VideoEpisode  `json:"episodes"`
	Related  []VideoListItem `json:"related"`
}
