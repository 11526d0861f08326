package proxy

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ProbeRange is the two byte range players send to check range support. Answers to it
// are relayed untouched.
const ProbeRange = "bytes=0-1"

// ClampRange bounds a single "bytes=S-" or "bytes=S-E" range to maxChunk/4 bytes:
// an open or oversized range becomes "bytes=S-(S+maxChunk/4-1)". Suffix ranges, multi
// ranges and malformed headers are returned unchanged.
func ClampRange(header string, maxChunk int64) string {
	limit := maxChunk / 4
	if limit <= 0 {
		return header
	}

	start, end, ok := parseRange(header)
	if !ok {
		return header
	}
	if end >= 0 && end-start+1 <= limit {
		return header
	}
	return fmt.Sprintf("bytes=%d-%d", start, start+limit-1)
}

// parseRange parses a single "bytes=S-" / "bytes=S-E" range. end is -1 when open.
func parseRange(header string) (start, end int64, ok bool) {
	rng, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(rng, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(rng, "-")
	if !found || first == "" {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	if strings.TrimSpace(last) == "" {
		return start, -1, true
	}
	end, err = strconv.ParseInt(strings.TrimSpace(last), 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}

// ContentRange is a parsed "bytes S-E/T" header; Total is -1 for "*".
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

// ParseContentRange parses a Content-Range response header.
func ParseContentRange(header string) (ContentRange, bool) {
	rng, found := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !found {
		return ContentRange{}, false
	}
	span, total, found := strings.Cut(rng, "/")
	if !found {
		return ContentRange{}, false
	}
	first, last, found := strings.Cut(span, "-")
	if !found {
		return ContentRange{}, false
	}

	var cr ContentRange
	var err error
	if cr.Start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return ContentRange{}, false
	}
	if cr.End, err = strconv.ParseInt(last, 10, 64); err != nil || cr.End < cr.Start {
		return ContentRange{}, false
	}
	if total == "*" {
		cr.Total = -1
	} else if cr.Total, err = strconv.ParseInt(total, 10, 64); err != nil {
		return ContentRange{}, false
	}
	return cr, true
}

// Whole reports whether the range spans the entire resource.
func (cr ContentRange) Whole() bool {
	return cr.Start == 0 && cr.Total > 0 && cr.End == cr.Total-1
}

// NormalizeStatus turns a 206 that covers the whole resource into 200, except when the
// client sent the ProbeRange, whose answer is kept intact. It reports whether the status
// changed, in which case Content-Range must not be relayed.
func NormalizeStatus(status int, contentRange, clientRange string) (int, bool) {
	if status != http.StatusPartialContent || strings.TrimSpace(clientRange) == ProbeRange {
		return status, false
	}
	cr, ok := ParseContentRange(contentRange)
	if !ok || !cr.Whole() {
		return status, false
	}
	return http.StatusOK, true
}
