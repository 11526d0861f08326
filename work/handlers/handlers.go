package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"media-relay/work/clue"
	"media-relay/work/logger"
	"media-relay/work/music"
	"media-relay/work/proxy"
	"media-relay/work/restream"
	"media-relay/work/types"
	"media-relay/work/utils"
	"media-relay/work/video"

	"github.com/gorilla/mux"
)

// keyword returns the trimmed s query parameter.
func keyword(r *http.Request) (string, error) {
	s := strings.TrimSpace(r.URL.Query().Get("s"))
	if s == "" {
		return "", fmt.Errorf("%w: missing keyword", types.ErrBadRequest)
	}
	return s, nil
}

// urlParam returns the url query parameter.
func urlParam(r *http.Request) (string, error) {
	u := strings.TrimSpace(r.URL.Query().Get("url"))
	if u == "" {
		return "", fmt.Errorf("%w: missing url", types.ErrBadRequest)
	}
	return u, nil
}

// tokenURL decodes the {token} path variable into the URL it carries.
func tokenURL(r *http.Request) (string, error) {
	token := mux.Vars(r)["token"]
	u, ok := clue.ParseParams(token)
	if !ok || u == "" {
		return "", fmt.Errorf("%w: invalid token", types.ErrNotFound)
	}
	return u, nil
}

func HandleMusicList(svc *music.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kw, err := keyword(r)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		results := svc.Search(r.Context(), kw)
		logger.Debug("{handlers/handlers - HandleMusicList} %q: %d results", kw, len(results))
		utils.WriteData(w, results)
	}
}

func HandleMusicPlay(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.ServeAudio(w, r, mux.Vars(r)["id"], false)
	}
}

func HandleMusicDownload(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.ServeDownload(w, r, mux.Vars(r)["id"])
	}
}

func HandleMusicPoster(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.ServePoster(w, r, mux.Vars(r)["id"])
	}
}

func HandleMusicLyrics(svc *music.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lines, err := svc.Lyrics(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		utils.WriteData(w, lines)
	}
}

func HandleMusicLyricDownload(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.ServeLyricDownload(w, r, mux.Vars(r)["id"])
	}
}

// HandleVideoPure serves the ad-free manifest of the URL carried by {token}.
func HandleVideoPure(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := tokenURL(r)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		sp.ServePureManifest(w, r, target)
	}
}

// HandleVideoPureURL serves the ad-free manifest of the url query parameter.
func HandleVideoPureURL(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := urlParam(r)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		sp.ServePureManifest(w, r, target)
	}
}

func HandleVideoParse(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := urlParam(r)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		writeParsed(w, r, sp, target)
	}
}

func HandleVideoParseToken(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := tokenURL(r)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		writeParsed(w, r, sp, target)
	}
}

// writeParsed answers with the media URL behind target, or data null when none is found.
func writeParsed(w http.ResponseWriter, r *http.Request, sp *proxy.StreamProxy, target string) {
	media, err := sp.ParseMediaURL(r.Context(), target)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if media == "" {
		utils.WriteData(w, nil)
		return
	}
	utils.WriteData(w, media)
}

func HandleVideoList(vc *video.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kw, err := keyword(r)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		items, err := vc.Search(r.Context(), kw)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		utils.WriteData(w, items)
	}
}

// HandleVideoDetail answers the detail record of the video named by a site|id token.
func HandleVideoDetail(vc *video.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := clue.Parse(mux.Vars(r)["token"])
		if !ok || c.API != vc.Site() || c.ID == "" {
			utils.WriteError(w, fmt.Errorf("%w: invalid token", types.ErrNotFound))
			return
		}
		info, err := vc.Detail(r.Context(), c.ID)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		utils.WriteData(w, info)
	}
}

// HandleVideoDownload sends every segment of the playlist carried by {token} as one
// transport stream attachment.
func HandleVideoDownload(dl *restream.Downloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := tokenURL(r)
		if err != nil {
			utils.WriteError(w, err)
			return
		}

		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			name = "video"
		}
		out := &deferredHeaderWriter{ResponseWriter: w, before: func(h http.Header) {
			h.Set("Content-Type", "video/mp2t")
			h.Set("Content-Disposition", utils.ContentDisposition(name+".ts"))
		}}

		written, err := dl.Download(r.Context(), target, out)
		if err == nil {
			return
		}
		if written == 0 && !out.started {
			utils.WriteError(w, err)
			return
		}
		logger.Warn("{handlers/handlers - HandleVideoDownload} Download aborted after %d bytes: %v", written, err)
	}
}

func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	}
}

// deferredHeaderWriter sets its headers right before the first body byte, so a failure
// before that point can still be answered with an error envelope.
type deferredHeaderWriter struct {
	http.ResponseWriter
	before  func(http.Header)
	started bool
}

func (d *deferredHeaderWriter) Write(b []byte) (int, error) {
	if !d.started {
		d.started = true
		d.before(d.Header())
		d.WriteHeader(http.StatusOK)
	}
	n, err := d.ResponseWriter.Write(b)
	if f, ok := d.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// HandleGenericProxy forwards the url query parameter through the relay.
func HandleGenericProxy(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := urlParam(r)
		if err != nil {
			utils.WriteError(w, err)
			return
		}
		sp.ServeGenericProxy(w, r, target)
	}
}
