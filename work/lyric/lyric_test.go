package lyric

import (
	"math/rand"
	"testing"

	"media-relay/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `[ti:晴天]
[ar:周杰伦]
[00:30.50]刮风这天 我试过握着你手
[00:05.123]故事的小黄花
[00:00.00]晴天 - 周杰伦
[00:01.00]本歌词由 www.2t58.com 提供
[00:12.3][01:12.30]从出生那年就飘着
[00:20]童年的荡秋千
not a lyric line
`

func TestParseOrdersAndFilters(t *testing.T) {
	lines := Parse(sample, "www.2t58.com")

	want := []types.LyricLine{
		{Time: 0, Text: "晴天 - 周杰伦"},
		{Time: 5.12, Text: "故事的小黄花"},
		{Time: 12.3, Text: "从出生那年就飘着"},
		{Time: 20, Text: "童年的荡秋千"},
		{Time: 30.5, Text: "刮风这天 我试过握着你手"},
		{Time: 72.3, Text: "从出生那年就飘着"},
	}
	assert.Equal(t, want, lines)
}

func TestParseKeepsWatermarkWithoutHost(t *testing.T) {
	lines := Parse("[00:01.00]本歌词由 www.2t58.com 提供", "")
	require.Len(t, lines, 1)
}

func TestParseAcceptsSerializedForm(t *testing.T) {
	lines := Parse(sample, "2t58.com")
	again := Parse(Serialize(lines), "2t58.com")
	assert.Equal(t, lines, again)
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "[01:23:460]", FormatTimestamp(83.456))
	assert.Equal(t, "[00:00:000]", FormatTimestamp(-1))
	assert.Equal(t, "[10:00:500]", FormatTimestamp(600.5))
}

func TestActiveIndex(t *testing.T) {
	lines := []types.LyricLine{{Time: 1}, {Time: 2.5}, {Time: 2.5}, {Time: 7}}

	assert.Equal(t, -1, ActiveIndex(lines, 0.99))
	assert.Equal(t, 0, ActiveIndex(lines, 1))
	assert.Equal(t, 0, ActiveIndex(lines, 2.49))
	assert.Equal(t, 2, ActiveIndex(lines, 2.5))
	assert.Equal(t, 3, ActiveIndex(lines, 100))
	assert.Equal(t, -1, ActiveIndex(nil, 3))
}

func TestActiveIndexSelectsExactlyOneLine(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	raw := ""
	for i := 0; i < 50; i++ {
		raw += FormatTimestamp(float64(r.Intn(30000))/100) + "line\n"
	}
	lines := Parse(raw, "")

	for i := 0; i < 500; i++ {
		current := r.Float64() * 320
		idx := ActiveIndex(lines, current)
		if idx == -1 {
			assert.Greater(t, lines[0].Time, current)
			continue
		}
		assert.LessOrEqual(t, lines[idx].Time, current)
		if idx+1 < len(lines) {
			assert.Greater(t, lines[idx+1].Time, current)
		}
	}
}
