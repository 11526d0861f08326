package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"
)

// DefaultPath is where the relay looks for its settings when MEDIA_RELAY_CONFIG is unset.
const DefaultPath = "/settings/config.json"

// Config holds all application configuration values for the media relay.
// It is built once at startup and handed to every component; nothing mutates it afterwards.
type Config struct {
	Listen           string         // Listen address for the HTTP server
	BaseURL          string         // Public base URL prefixed to generated play/poster links (empty = relative)
	Dev              bool           // Dev mode: proxy manifest segments and posters through this server
	Debug            bool           // Enable debug logging
	LogLevel         string         // DEBUG, INFO, WARN or ERROR
	ObfuscateUrls    bool           // Obfuscate URLs in logs
	UserAgent        string         // User-Agent sent upstream
	FetchTimeout     time.Duration  // Hard timeout of text fetches (soft failure on expiry)
	StreamTimeout    time.Duration  // Response header timeout for proxied media
	MaxChunkSize     int64          // Upper bound for ranged proxying and chunked downloads, in bytes
	WorkerThreads    int            // Size of the shared worker pool
	CacheEnabled     bool           // Cache resolved stream/poster/lyric lookups
	CacheDuration    time.Duration  // Expiry of cached resolutions
	CacheSize        int            // Maximum number of cached resolutions
	MaxPlaylistDepth int            // Maximum nested playlist hops followed while resolving a manifest
	AdRunLength      int            // Linear segments required before a jump is treated as an ad break
	AdIndexGap       int            // Segment index jump that marks an ad break
	SegmentMaxRetry  int            // Attempts per segment when downloading a whole video
	MaxSearchPages   int            // Upper bound of result pages fetched per adapter search
	DefaultPoster    string         // Poster served when resolution fails
	VideoAPI         string         // Base URL of the video aggregation API
	VideoSite        string         // Site key embedded in video clue tokens
	Sources          []SourceConfig // Upstream music sites
}

// SourceConfig represents the configuration for a single upstream music site.
type SourceConfig struct {
	ID           string // Single character source id used in composite ids
	Name         string // Descriptive name
	BaseURL      string // Scheme and host of the upstream site
	Enabled      bool   // Disabled sources are not registered
	RateLimit    int    // Requests per second allowed towards this host
	IncludeRegex string // Results must match to be kept
	ExcludeRegex string // Results matching are dropped
}

// ConfigFile represents the JSON file structure. Durations are strings (e.g. "4s").
type ConfigFile struct {
	Listen           string             `json:"listen"`
	BaseURL          string             `json:"baseURL"`
	Dev              bool               `json:"dev"`
	Debug            bool               `json:"debug"`
	LogLevel         string             `json:"logLevel"`
	ObfuscateUrls    bool               `json:"obfuscateUrls"`
	UserAgent        string             `json:"userAgent"`
	FetchTimeout     string             `json:"fetchTimeout"`
	StreamTimeout    string             `json:"streamTimeout"`
	MaxChunkSize     int64              `json:"maxChunkSize"`
	WorkerThreads    int                `json:"workerThreads"`
	CacheEnabled     *bool              `json:"cacheEnabled"`
	CacheDuration    string             `json:"cacheDuration"`
	CacheSize        int                `json:"cacheSize"`
	MaxPlaylistDepth int                `json:"maxPlaylistDepth"`
	AdRunLength      int                `json:"adRunLength"`
	AdIndexGap       int                `json:"adIndexGap"`
	SegmentMaxRetry  int                `json:"segmentMaxRetry"`
	MaxSearchPages   int                `json:"maxSearchPages"`
	DefaultPoster    string             `json:"defaultPoster"`
	VideoAPI         string             `json:"videoAPI"`
	VideoSite        string             `json:"videoSite"`
	Sources          []SourceConfigFile `json:"sources"`
}

// SourceConfigFile is the JSON form of SourceConfig.
type SourceConfigFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BaseURL      string `json:"baseURL"`
	Enabled      *bool  `json:"enabled"`
	RateLimit    int    `json:"rateLimit"`
	IncludeRegex string `json:"includeRegex,omitempty"`
	ExcludeRegex string `json:"excludeRegex,omitempty"`
}

// Path returns the config file location, honoring MEDIA_RELAY_CONFIG.
func Path() string {
	if p := os.Getenv("MEDIA_RELAY_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the configuration at path. A missing or invalid file falls back to the
// defaults; zero values are always filled in by validateAndSetDefaults.
func Load(path string) *Config {
	config, err := loadFromFile(path)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", path, err)
		log.Printf("Falling back to default configuration...")
		config = Default()
	}

	validateAndSetDefaults(config)

	if config.Debug {
		log.Printf("Configuration loaded:")
		log.Printf("  Sources: %d configured", len(config.Sources))
		for i := range config.Sources {
			src := &config.Sources[i]
			log.Printf("    Source %s (%s): %s (enabled: %v, rate: %d/s)",
				src.ID, src.Name, obfuscateURL(src.BaseURL), src.Enabled, src.RateLimit)
		}
		log.Printf("  Dev: %v", config.Dev)
		log.Printf("  Max Chunk Size: %d", config.MaxChunkSize)
	}

	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		Listen:           cf.Listen,
		BaseURL:          cf.BaseURL,
		Dev:              cf.Dev,
		Debug:            cf.Debug,
		LogLevel:         cf.LogLevel,
		ObfuscateUrls:    cf.ObfuscateUrls,
		UserAgent:        cf.UserAgent,
		MaxChunkSize:     cf.MaxChunkSize,
		WorkerThreads:    cf.WorkerThreads,
		CacheEnabled:     true,
		CacheSize:        cf.CacheSize,
		MaxPlaylistDepth: cf.MaxPlaylistDepth,
		AdRunLength:      cf.AdRunLength,
		AdIndexGap:       cf.AdIndexGap,
		SegmentMaxRetry:  cf.SegmentMaxRetry,
		MaxSearchPages:   cf.MaxSearchPages,
		DefaultPoster:    cf.DefaultPoster,
		VideoAPI:         cf.VideoAPI,
		VideoSite:        cf.VideoSite,
	}
	if cf.CacheEnabled != nil {
		config.CacheEnabled = *cf.CacheEnabled
	}

	var err error
	if config.FetchTimeout, err = parseOptionalDuration(cf.FetchTimeout); err != nil {
		return nil, fmt.Errorf("invalid fetchTimeout: %w", err)
	}
	if config.StreamTimeout, err = parseOptionalDuration(cf.StreamTimeout); err != nil {
		return nil, fmt.Errorf("invalid streamTimeout: %w", err)
	}
	if config.CacheDuration, err = parseOptionalDuration(cf.CacheDuration); err != nil {
		return nil, fmt.Errorf("invalid cacheDuration: %w", err)
	}

	if len(cf.Sources) == 0 {
		config.Sources = DefaultSources()
		return config, nil
	}

	config.Sources = make([]SourceConfig, len(cf.Sources))
	for i, srcFile := range cf.Sources {
		src := &config.Sources[i]
		src.ID = srcFile.ID
		src.Name = srcFile.Name
		src.BaseURL = srcFile.BaseURL
		src.Enabled = true
		if srcFile.Enabled != nil {
			src.Enabled = *srcFile.Enabled
		}
		src.RateLimit = srcFile.RateLimit
		src.IncludeRegex = srcFile.IncludeRegex
		src.ExcludeRegex = srcFile.ExcludeRegex
		if len(src.ID) != 1 {
			return nil, fmt.Errorf("source %q: id must be a single character", src.Name)
		}
	}

	return config, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// DefaultSources lists the upstream music sites known to the relay.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{ID: "a", Name: "2t58", BaseURL: "https://www.2t58.com", Enabled: true, RateLimit: 5},
		{ID: "b", Name: "fangpi", BaseURL: "https://www.fangpi.net", Enabled: true, RateLimit: 5},
		{ID: "c", Name: "gequhai", BaseURL: "https://www.gequhai.net", Enabled: true, RateLimit: 5},
	}
}

// Default returns a baseline configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen:           ":8080",
		LogLevel:         "INFO",
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		FetchTimeout:     4 * time.Second,
		StreamTimeout:    30 * time.Second,
		MaxChunkSize:     4_000_000,
		WorkerThreads:    16,
		CacheEnabled:     true,
		CacheDuration:    10 * time.Minute,
		CacheSize:        10_000,
		MaxPlaylistDepth: 5,
		AdRunLength:      3,
		AdIndexGap:       3,
		SegmentMaxRetry:  3,
		MaxSearchPages:   5,
		DefaultPoster:    "/default-poster.svg",
		VideoSite:        "v",
		Sources:          DefaultSources(),
	}
}

// validateAndSetDefaults fills in defaults for missing or invalid values.
func validateAndSetDefaults(config *Config) {
	def := Default()

	if config.Listen == "" {
		config.Listen = def.Listen
	}
	if config.LogLevel == "" {
		config.LogLevel = def.LogLevel
	}
	if config.Debug {
		config.LogLevel = "DEBUG"
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = def.FetchTimeout
	}
	if config.StreamTimeout <= 0 {
		config.StreamTimeout = def.StreamTimeout
	}
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = def.MaxChunkSize
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = def.WorkerThreads
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = def.CacheDuration
	}
	if config.CacheSize <= 0 {
		config.CacheSize = def.CacheSize
	}
	if config.MaxPlaylistDepth <= 0 {
		config.MaxPlaylistDepth = def.MaxPlaylistDepth
	}
	if config.AdRunLength <= 0 {
		config.AdRunLength = def.AdRunLength
	}
	if config.AdIndexGap <= 0 {
		config.AdIndexGap = def.AdIndexGap
	}
	if config.SegmentMaxRetry <= 0 {
		config.SegmentMaxRetry = def.SegmentMaxRetry
	}
	if config.MaxSearchPages <= 0 {
		config.MaxSearchPages = def.MaxSearchPages
	}
	if config.DefaultPoster == "" {
		config.DefaultPoster = def.DefaultPoster
	}
	if config.VideoSite == "" {
		config.VideoSite = def.VideoSite
	}

	for i := range config.Sources {
		src := &config.Sources[i]
		if src.Name == "" {
			src.Name = fmt.Sprintf("Source_%s", src.ID)
		}
		if src.RateLimit <= 0 {
			src.RateLimit = 5
		}
	}
}

// GetSource returns the source with the given id, or nil.
func (c *Config) GetSource(id string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == id {
			return &c.Sources[i]
		}
	}
	return nil
}

// GetSourceByHost returns the source whose base URL points at host, or nil.
func (c *Config) GetSourceByHost(host string) *SourceConfig {
	for i := range c.Sources {
		u, err := url.Parse(c.Sources[i].BaseURL)
		if err == nil && u.Host == host {
			return &c.Sources[i]
		}
	}
	return nil
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	enabled := true
	example := ConfigFile{
		Listen:           ":8080",
		BaseURL:          "https://relay.example.com",
		LogLevel:         "INFO",
		ObfuscateUrls:    true,
		FetchTimeout:     "4s",
		StreamTimeout:    "30s",
		MaxChunkSize:     4_000_000,
		WorkerThreads:    16,
		CacheEnabled:     &enabled,
		CacheDuration:    "10m",
		MaxPlaylistDepth: 5,
		AdRunLength:      3,
		AdIndexGap:       3,
		SegmentMaxRetry:  3,
		MaxSearchPages:   5,
		VideoAPI:         "https://vod.example.com/api.php/provide/vod/",
		VideoSite:        "v",
		Sources: []SourceConfigFile{
			{ID: "a", Name: "2t58", BaseURL: "https://www.2t58.com", Enabled: &enabled, RateLimit: 5},
			{ID: "b", Name: "fangpi", BaseURL: "https://www.fangpi.net", Enabled: &enabled, RateLimit: 5, ExcludeRegex: "(?i)伴奏|karaoke"},
			{ID: "c", Name: "gequhai", BaseURL: "https://www.gequhai.net", Enabled: &enabled, RateLimit: 3},
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// obfuscateURL masks sensitive parts of a URL for logging.
func obfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	return result
}
