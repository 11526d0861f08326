package parser

import (
	"strconv"
	"strings"

	"media-relay/work/logger"
	"media-relay/work/metrics"

	"github.com/grafana/regexp"
)

// Ad break detection thresholds. They were tuned against the numbering schemes of real
// upstreams; change them through AdOptions, not here.
const (
	// DefaultAdRunLength is how many consecutive increasing segment indices must be seen
	// before a jump counts as an ad break.
	DefaultAdRunLength = 3

	// DefaultAdIndexGap is the index increase above which a segment is an outlier.
	DefaultAdIndexGap = 3
)

var (
	// segmentIndexRegex captures the last (up to six) digits before the file extension.
	segmentIndexRegex = regexp.MustCompile(`(\d{1,6})\.[A-Za-z0-9]+(?:\?.*)?$`)
	uriAttrRegex      = regexp.MustCompile(`URI="([^"]*)"`)
)

// AdOptions tunes RemoveAds.
type AdOptions struct {
	RunLength int
	IndexGap  int
}

// DefaultAdOptions returns the built-in thresholds.
func DefaultAdOptions() AdOptions {
	return AdOptions{RunLength: DefaultAdRunLength, IndexGap: DefaultAdIndexGap}
}

// segment is one #EXTINF entry: its tag lines and the URI line.
type segment struct {
	lines []string
	index int // -1 when the URI carries no number
}

// held is output withheld while an ad break is open. Segments among it are dropped
// when the break ends; everything else is written through.
type held struct {
	lines   []string
	segment bool
}

// RemoveAds strips inserted ad breaks from a media playlist and rewrites every segment
// and URI="..." reference through resolve. It returns the new playlist and the number of
// segments dropped.
//
// Upstreams number their own segments linearly; an inserted ad shows up as a jump. Once
// RunLength increasing indices have been seen, a segment whose index exceeds the last
// kept one by more than IndexGap opens a break that also takes the segment kept right
// before the jump. The last kept index is not advanced inside a break, and the break
// closes at the first segment that continues from it. A break still open at the end of
// the playlist was a renumbering, not an ad, and its segments are restored.
// #EXT-X-DISCONTINUITY tags are always dropped.
func RemoveAds(content string, resolve func(string) string, opts AdOptions) (string, int) {
	if opts.RunLength <= 0 {
		opts.RunLength = DefaultAdRunLength
	}
	if opts.IndexGap <= 0 {
		opts.IndexGap = DefaultAdIndexGap
	}
	if resolve == nil {
		resolve = func(s string) string { return s }
	}

	out := make([]string, 0, 256)
	var pending *segment
	var adBreak []held

	removed := 0
	lastIndex := -1
	linear := 0
	inAd := false
	prevStart, prevEnd := -1, -1 // bounds in out of the last kept segment

	write := func(lines []string, isSegment bool) {
		if inAd {
			adBreak = append(adBreak, held{lines: lines, segment: isSegment})
			return
		}
		if isSegment {
			prevStart = len(out)
		}
		out = append(out, lines...)
		if isSegment {
			prevEnd = len(out)
		}
	}
	openBreak := func() {
		if prevStart >= 0 {
			adBreak = append(adBreak, held{lines: append([]string(nil), out[prevStart:prevEnd]...), segment: true})
			if prevEnd < len(out) {
				adBreak = append(adBreak, held{lines: append([]string(nil), out[prevEnd:]...)})
			}
			out = out[:prevStart]
		}
		prevStart, prevEnd = -1, -1
		inAd = true
	}
	closeBreak := func(keepSegments bool) {
		for _, h := range adBreak {
			if h.segment && !keepSegments {
				removed++
				continue
			}
			out = append(out, h.lines...)
		}
		adBreak = nil
		inAd = false
		prevStart, prevEnd = -1, -1
	}

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			if pending == nil {
				write([]string{line}, false)
			}
			continue
		case strings.HasPrefix(trimmed, "#EXT-X-DISCONTINUITY") && !strings.HasPrefix(trimmed, "#EXT-X-DISCONTINUITY-SEQUENCE"):
			continue
		case strings.HasPrefix(trimmed, "#EXTINF"):
			pending = &segment{lines: []string{trimmed}}
			continue
		case strings.HasPrefix(trimmed, "#"):
			rewritten := rewriteURIAttr(trimmed, resolve)
			if pending != nil {
				pending.lines = append(pending.lines, rewritten)
			} else {
				write([]string{rewritten}, false)
			}
			continue
		}

		// URI line
		if pending == nil {
			write([]string{resolve(trimmed)}, false)
			continue
		}
		pending.lines = append(pending.lines, resolve(trimmed))
		pending.index = segmentIndex(trimmed)
		seg := pending
		pending = nil

		if seg.index < 0 {
			write(seg.lines, !inAd)
			continue
		}
		if lastIndex < 0 {
			write(seg.lines, true)
			lastIndex, linear = seg.index, 1
			continue
		}

		delta := seg.index - lastIndex
		if linear >= opts.RunLength && delta > opts.IndexGap {
			if !inAd {
				openBreak()
			}
			write(seg.lines, true)
			logger.Debug("{parser/ads - RemoveAds} holding segment %d after run of %d ending at %d", seg.index, linear, lastIndex)
			continue
		}

		if inAd {
			closeBreak(false)
		}
		if delta > 0 && delta <= opts.IndexGap {
			linear++
		} else {
			linear = 1
		}
		lastIndex = seg.index
		write(seg.lines, true)
	}

	if inAd {
		logger.Debug("{parser/ads - RemoveAds} break after %d never closed, restoring %d entries", lastIndex, len(adBreak))
		closeBreak(true)
	}
	if removed > 0 {
		metrics.AdSegmentsRemoved.Add(float64(removed))
	}
	return strings.Join(out, "\n"), removed
}

// segmentIndex extracts the trailing number of a segment URI, or -1.
func segmentIndex(uri string) int {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	m := segmentIndexRegex.FindStringSubmatch(uri)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

func rewriteURIAttr(line string, resolve func(string) string) string {
	if !strings.Contains(line, `URI="`) {
		return line
	}
	return uriAttrRegex.ReplaceAllStringFunc(line, func(attr string) string {
		ref := attr[len(`URI="`) : len(attr)-1]
		return `URI="` + resolve(ref) + `"`
	})
}
