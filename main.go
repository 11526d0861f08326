package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"

	"media-relay/work/adapter"
	"media-relay/work/adapter/fangpi"
	"media-relay/work/adapter/gequhai"
	"media-relay/work/adapter/twot58"
	"media-relay/work/buffer"
	"media-relay/work/cache"
	"media-relay/work/client"
	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/music"
	"media-relay/work/proxy"
	"media-relay/work/restream"
	"media-relay/work/utils"
	"media-relay/work/video"
)

var (
	Version = "v0.1.0" // default version
)

// copyBufferSize is the size of the pooled buffers media is relayed through.
const copyBufferSize = 32 << 10

// factories maps configured source names to their adapter implementations.
var factories = map[string]adapter.Factory{
	"2t58":    twot58.New,
	"fangpi":  fangpi.New,
	"gequhai": gequhai.New,
}

// application holds the wired components the routes are served from.
type application struct {
	config     *config.Config
	pool       *ants.Pool
	cache      *cache.Cache // nil when caching is disabled
	music      *music.Service
	proxy      *proxy.StreamProxy
	video      *video.Client
	downloader *restream.Downloader
}

// our main app worker
func main() {

	// "media-relay example-config [path]" writes a starter config and exits
	if len(os.Args) > 1 && os.Args[1] == "example-config" {
		path := config.DefaultPath
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		if err := config.CreateExampleConfig(path); err != nil {
			log.Fatalf("Failed to write example config: %v", err)
		}
		log.Printf("Example config written to %s", path)
		return
	}

	// load our config
	cfg := config.Load(config.Path())
	logger.SetLogLevel(cfg.LogLevel)

	bufferPool := buffer.NewBufferPool(copyBufferSize)
	httpClient := client.NewHeaderSettingClient(cfg)

	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	var cacheInstance *cache.Cache
	if cfg.CacheEnabled {
		cacheInstance = cache.NewCache(cfg.CacheSize, cfg.CacheDuration)
	}

	registry, err := adapter.Build(cfg, httpClient, factories)
	if err != nil {
		log.Fatalf("Failed to register sources: %v", err)
	}

	musicService := music.NewService(cfg, registry, workerPool, cacheInstance)
	proxyInstance := proxy.New(cfg, bufferPool, httpClient, workerPool, musicService)

	app := &application{
		config:     cfg,
		pool:       workerPool,
		cache:      cacheInstance,
		music:      musicService,
		proxy:      proxyInstance,
		video:      video.NewClient(httpClient, cfg),
		downloader: restream.NewDownloader(httpClient, proxyInstance.Engine, workerPool, cfg),
	}

	router := mux.NewRouter()
	setupRoutes(router, app)

	// show info
	logger.Info("Starting media relay %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen: %s", cfg.Listen)
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Dev Mode: %v", cfg.Dev)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Sources: %d registered of %d configured", registry.Len(), len(cfg.Sources))
	logger.Info("  - Max. Chunk Size: %s", utils.FormatBytes(cfg.MaxChunkSize))
	logger.Info("  - Cache Enabled: %v", cfg.CacheEnabled)
	logger.Info("  - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("  - Video API: %s", utils.LogURL(cfg, cfg.VideoAPI))
	logger.Info("  - Log Level: %s", logger.GetLogLevel())
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed: %v", err)
		}
	}()

	// fire us up
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed to start: %v", err)
	}
}
