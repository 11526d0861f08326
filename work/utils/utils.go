package utils

import (
	"fmt"
	"media-relay/work/config"
	"net/url"
	"strings"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, url string) string {
	if cfg != nil && cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// SanitizeFilename makes a user supplied download name safe for a
// Content-Disposition header. Characters that are illegal on common file
// systems are replaced, runs of underscores collapsed.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"\"", "",
		"'", "",
		"/", "_",
		"\\", "_",
		"?", "_",
		":", "_",
		";", "_",
		"|", "_",
		"*", "_",
		"<", "_",
		">", "_",
		"\r", "",
		"\n", "",
	)
	sanitized := replacer.Replace(strings.TrimSpace(name))

	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}

	return strings.Trim(sanitized, "_. ")
}

// ContentDisposition builds an attachment header value carrying both an ASCII
// fallback and the RFC 5987 encoded UTF-8 name.
func ContentDisposition(name string) string {
	name = SanitizeFilename(name)
	if name == "" {
		name = "download"
	}

	fallback := strings.Map(func(r rune) rune {
		if r > 0x7E || r < 0x20 {
			return '_'
		}
		return r
	}, name)

	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fallback, url.PathEscape(name))
}

func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	// Keep scheme and host, obfuscate path and query
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// FormatBytes renders a byte count with a binary unit, e.g. "1.5 MiB".
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
