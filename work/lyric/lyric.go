// Package lyric reads and writes LRC lyrics and finds the line playing at a given time.
package lyric

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"media-relay/work/textutil"
	"media-relay/work/types"

	"github.com/grafana/regexp"
)

// timestampRegex matches [mm:ss], [mm:ss.xx] and [mm:ss:xxx] tags. A line may carry
// several of them in front of its text.
var timestampRegex = regexp.MustCompile(`\[(\d{1,3}):(\d{1,2})(?:[.:](\d{1,3}))?\]`)

// Parse reads an LRC blob into time ordered lines. Lines whose text mentions host
// (upstream watermarks) are dropped, as are metadata tags like [ti:...].
func Parse(raw, host string) []types.LyricLine {
	watermark := strings.ToLower(strings.TrimPrefix(host, "www."))
	lines := make([]types.LyricLine, 0, 64)

	for _, row := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		row = strings.TrimSpace(row)
		matches := timestampRegex.FindAllStringSubmatchIndex(row, -1)
		if len(matches) == 0 || matches[0][0] != 0 {
			continue
		}

		// timestamps are stacked at the start; text follows the last contiguous one
		end := 0
		var times []float64
		for _, m := range matches {
			if m[0] != end {
				break
			}
			times = append(times, toSeconds(row, m))
			end = m[1]
		}

		text := strings.TrimSpace(row[end:])
		if watermark != "" && strings.Contains(strings.ToLower(text), watermark) {
			continue
		}
		for _, t := range times {
			lines = append(lines, types.LyricLine{Time: t, Text: text})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Time < lines[j].Time
	})
	return lines
}

func toSeconds(row string, m []int) float64 {
	minutes, _ := strconv.Atoi(row[m[2]:m[3]])
	seconds, _ := strconv.Atoi(row[m[4]:m[5]])
	total := float64(minutes*60 + seconds)
	if m[6] >= 0 {
		frac := row[m[6]:m[7]]
		n, _ := strconv.Atoi(frac)
		total += float64(n) / math.Pow10(len(frac))
	}
	return textutil.Round2(total)
}

// FormatTimestamp renders seconds as the [mm:ss:mmm] tag used in downloads.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(textutil.Round2(seconds) * 1000))
	return fmt.Sprintf("[%02d:%02d:%03d]", ms/60000, (ms/1000)%60, ms%1000)
}

// Serialize renders lines back to LRC text, one entry per row.
func Serialize(lines []types.LyricLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(FormatTimestamp(l.Time))
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// ActiveIndex returns the index of the last line whose time is <= current, or -1 when
// current is before the first line. lines must be ordered by time.
func ActiveIndex(lines []types.LyricLine, current float64) int {
	return sort.Search(len(lines), func(i int) bool {
		return lines[i].Time > current
	}) - 1
}
