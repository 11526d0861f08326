package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"media-relay/work/handlers"
	"media-relay/work/logger"
	"media-relay/work/middleware"
	"media-relay/work/utils"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startTime is used for the uptime reported by /api/stats.
var startTime = time.Now()

// StatsResponse is the operational snapshot served by /api/stats.
type StatsResponse struct {
	Version        string   `json:"version"`
	Uptime         string   `json:"uptime"`
	MemoryUsage    string   `json:"memoryUsage"`
	Dev            bool     `json:"dev"`
	Sources        []string `json:"sources"` // registered adapters in search order
	CacheStatus    string   `json:"cacheStatus"`
	CacheEntries   int      `json:"cacheEntries"`
	WorkerThreads  int      `json:"workerThreads"`
	WorkersRunning int      `json:"workersRunning"`
	VideoAPI       bool     `json:"videoApi"`
}

// setupRoutes registers every endpoint on router. JSON endpoints are gzip compressed;
// media endpoints are not, so their length and range headers reach the client as is.
func setupRoutes(router *mux.Router, app *application) {
	router.Use(middleware.Recover)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", handlers.HandleHealth()).Methods("GET", "HEAD")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.CORS)

	gz := middleware.GzipMiddleware
	api.HandleFunc("/stats", gz(handleGetStats(app))).Methods("GET", "OPTIONS")

	api.HandleFunc("/music/list", gz(handlers.HandleMusicList(app.music))).Methods("GET", "OPTIONS")
	api.HandleFunc("/music/play/{id}", handlers.HandleMusicPlay(app.proxy)).Methods("GET", "HEAD", "OPTIONS")
	api.HandleFunc("/music/lrc/download/{id}", handlers.HandleMusicLyricDownload(app.proxy)).Methods("GET", "OPTIONS")
	api.HandleFunc("/music/lrc/{id}", gz(handlers.HandleMusicLyrics(app.music))).Methods("GET", "OPTIONS")
	api.HandleFunc("/music/poster/{id}", handlers.HandleMusicPoster(app.proxy)).Methods("GET", "OPTIONS")
	api.HandleFunc("/music/download/{id}", handlers.HandleMusicDownload(app.proxy)).Methods("GET", "OPTIONS")

	api.HandleFunc("/video/list", gz(handlers.HandleVideoList(app.video))).Methods("GET", "OPTIONS")
	api.HandleFunc("/video/detail/{token}", gz(handlers.HandleVideoDetail(app.video))).Methods("GET", "OPTIONS")
	api.HandleFunc("/video/parse", gz(handlers.HandleVideoParse(app.proxy))).Methods("GET", "OPTIONS")
	api.HandleFunc("/video/parse/{token}", gz(handlers.HandleVideoParseToken(app.proxy))).Methods("GET", "OPTIONS")
	api.HandleFunc("/video/pure/{token}", handlers.HandleVideoPure(app.proxy)).Methods("GET", "OPTIONS")
	api.HandleFunc("/video/m3u8-pure", handlers.HandleVideoPureURL(app.proxy)).Methods("GET", "OPTIONS")
	api.HandleFunc("/video/download/{token}", handlers.HandleVideoDownload(app.downloader)).Methods("GET", "OPTIONS")

	api.HandleFunc("/proxy", handlers.HandleGenericProxy(app.proxy)).Methods("GET", "HEAD", "OPTIONS")

	logger.Debug("{routes - setupRoutes} Routes registered")
}

func handleGetStats(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		cacheStatus := "Disabled"
		if app.config.CacheEnabled {
			cacheStatus = "Enabled"
		}

		sources := []string{}
		for _, a := range app.music.Registry().All() {
			sources = append(sources, a.ID()+":"+a.Name())
		}

		stats := StatsResponse{
			Version:        Version,
			Uptime:         formatDuration(time.Since(startTime)),
			MemoryUsage:    utils.FormatBytes(int64(m.Alloc)),
			Dev:            app.config.Dev,
			Sources:        sources,
			CacheStatus:    cacheStatus,
			CacheEntries:   app.cache.Len(),
			WorkerThreads:  app.pool.Cap(),
			WorkersRunning: app.pool.Running(),
			VideoAPI:       app.config.VideoAPI != "",
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.Error("{routes - handleGetStats} Failed to encode stats: %v", err)
		}
	}
}

// formatDuration converts a duration to a short human-readable form.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
