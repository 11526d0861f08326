package parser

import (
	"bufio"
	"sort"
	"strconv"
	"strings"

	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/textutil"
	"media-relay/work/utils"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"
)

// attributeRegex matches KEY=value and KEY="quoted, value" pairs of HLS attribute lists.
var attributeRegex = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]*"|[^,]*)`)

// StreamVariant represents a single stream variant from an HLS master playlist. Each
// variant is a different encoding of the same content.
type StreamVariant struct {
	URL              string // Absolute URL of the variant's media playlist
	Bandwidth        int    // Peak bandwidth in bits per second
	AverageBandwidth int    // Average bandwidth in bits per second (optional)
	Resolution       string // "WIDTHxHEIGHT"
	Codecs           string // Comma-separated codec specifications
}

// MasterPlaylistHandler parses master playlists and picks the variant to play.
type MasterPlaylistHandler struct {
	config *config.Config // for URL obfuscation in logs
}

// NewMasterPlaylistHandler creates a master playlist handler.
//
// Parameters:
//   - config: application configuration containing URL handling preferences
//
// Returns:
//   - *MasterPlaylistHandler: handler ready for master playlist operations
func NewMasterPlaylistHandler(config *config.Config) *MasterPlaylistHandler {
	return &MasterPlaylistHandler{
		config: config,
	}
}

// IsMasterPlaylist reports whether content carries #EXT-X-STREAM-INF tags.
func (mph *MasterPlaylistHandler) IsMasterPlaylist(content string) bool {
	return strings.Contains(content, "#EXT-X-STREAM-INF")
}

// IsMediaPlaylist reports whether content lists media segments.
func (mph *MasterPlaylistHandler) IsMediaPlaylist(content string) bool {
	return strings.Contains(content, "#EXTINF")
}

// ParseMasterPlaylist extracts all stream variants from master playlist content and
// resolves their URLs against baseURL. The grafov decoder is tried first; playlists it
// rejects go through a line scanner that tolerates sloppy upstream output.
//
// Variants are returned sorted by bandwidth, highest first. The sort is stable, so among
// variants of equal bandwidth the one listed first stays first.
//
// Parameters:
//   - content: complete master playlist content
//   - baseURL: URL the playlist was fetched from
//
// Returns:
//   - []StreamVariant: parsed and sorted variants, empty when none were found
func (mph *MasterPlaylistHandler) ParseMasterPlaylist(content string, baseURL string) []StreamVariant {
	variants := mph.decodeWithGrafov(content, baseURL)
	if len(variants) == 0 {
		logger.Debug("{parser/master - ParseMasterPlaylist} grafov found no variants, using fallback scanner")
		variants = mph.scanVariants(content, baseURL)
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})

	return variants
}

func (mph *MasterPlaylistHandler) decodeWithGrafov(content string, baseURL string) []StreamVariant {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(content), false)
	if err != nil || listType != m3u8.MASTER {
		if err != nil {
			logger.Debug("{parser/master - decodeWithGrafov} grafov decode failed: %v", err)
		}
		return nil
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil
	}

	variants := make([]StreamVariant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.URI == "" || v.Iframe {
			continue
		}
		variants = append(variants, StreamVariant{
			URL:              mph.resolveURL(v.URI, baseURL),
			Bandwidth:        int(v.Bandwidth),
			AverageBandwidth: int(v.AverageBandwidth),
			Resolution:       v.Resolution,
			Codecs:           v.Codecs,
		})
	}
	return variants
}

// scanVariants handles the two-line format where the #EXT-X-STREAM-INF line is
// followed by the variant URI.
func (mph *MasterPlaylistHandler) scanVariants(content string, baseURL string) []StreamVariant {
	var variants []StreamVariant
	var current *StreamVariant

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			variant := mph.parseStreamInf(line)
			current = &variant
		} else if current != nil && line != "" && !strings.HasPrefix(line, "#") {
			current.URL = mph.resolveURL(line, baseURL)
			variants = append(variants, *current)
			current = nil
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Error("{parser/master - scanVariants} error scanning playlist: %v", err)
	}
	return variants
}

// parseStreamInf extracts variant attributes from a #EXT-X-STREAM-INF line. A missing or
// malformed BANDWIDTH leaves it at zero so the variant ranks last.
func (mph *MasterPlaylistHandler) parseStreamInf(line string) StreamVariant {
	attributes := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))

	variant := StreamVariant{
		Resolution: attributes["RESOLUTION"],
		Codecs:     attributes["CODECS"],
	}
	if bw, err := strconv.Atoi(attributes["BANDWIDTH"]); err == nil {
		variant.Bandwidth = bw
	}
	if avg, err := strconv.Atoi(attributes["AVERAGE-BANDWIDTH"]); err == nil {
		variant.AverageBandwidth = avg
	}
	return variant
}

// parseAttributes extracts KEY=VALUE pairs from an HLS attribute list, unquoting values.
func parseAttributes(params string) map[string]string {
	attributes := make(map[string]string)
	for _, match := range attributeRegex.FindAllStringSubmatch(params, -1) {
		attributes[match[1]] = strings.Trim(match[2], "\"")
	}
	return attributes
}

func (mph *MasterPlaylistHandler) resolveURL(ref, baseURL string) string {
	resolved := textutil.ResolveURL(baseURL, ref)
	logger.Debug("{parser/master - resolveURL} %s -> %s", ref, utils.LogURL(mph.config, resolved))
	return resolved
}

// SelectVariant returns the variant with the strictly largest bandwidth; on ties the
// first listed wins. ok is false when variants is empty.
func (mph *MasterPlaylistHandler) SelectVariant(variants []StreamVariant) (StreamVariant, bool) {
	if len(variants) == 0 {
		return StreamVariant{}, false
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, true
}
