package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"vidgrab/internal/extract"
	"vidgrab/internal/format"
	"vidgrab/internal/logging"
	"vidgrab/internal/session"
	"vidgrab/internal/store"
)

type metadataFetcher interface {
	Fetch(ctx context.Context, mediaURL string) (extract.Metadata, error)
}

type downloadStarter interface {
	Start(ctx context.Context, mediaURL, quality, format string) session.Session
}

type sessionHub interface {
	Get(id string) (session.Session, bool)
	Subscribe(id string, buffer int) (<-chan session.Session, func(), bool)
	Cleanup(id string)
}

type historyLister interface {
	ListRecent(ctx context.Context, limit int) ([]store.Record, error)
	GetSession(ctx context.Context, sessionID string) (store.Record, bool, error)
}

type rateLimiter interface {
	Allow(key string) bool
}

// Options tunes handler behavior. Zero values get sane defaults.
type Options struct {
	HeartbeatInterval time.Duration // SSE keep-alive cadence
	CleanupGrace      time.Duration // delay between file delivery and session removal
}

func (o *Options) defaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.CleanupGrace <= 0 {
		o.CleanupGrace = 10 * time.Second
	}
}

// New returns an http.Handler with routes and middleware wired.
// history may be nil, which disables the history endpoint.
func New(fetcher metadataFetcher, starter downloadStarter, hub sessionHub, history historyLister, opts Options) http.Handler {
	opts.defaults()
	rl := newIPRateLimiter(60, time.Minute) // 60 req/min/IP
	mux := http.NewServeMux()

	mux.HandleFunc("/api/video-info", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil || req.URL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
			return
		}
		if !validURL(req.URL) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_url"})
			return
		}
		md, err := fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{"status": "error", "message": "extraction_failed", "detail": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "success",
			"title":              md.Title,
			"thumbnail":          md.ThumbnailURL,
			"duration":           formatDuration(md.DurationSec),
			"durationSeconds":    md.DurationSec,
			"availableQualities": availableQualities(md.Formats),
			"availableFormats":   append(append([]string{}, format.VideoContainers...), format.AudioContainers...),
			"defaultQuality":     "720p",
			"defaultFormat":      "mp4",
		})
	}))

	mux.HandleFunc("/api/download", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			URL     string `json:"url"`
			Quality string `json:"quality"`
			Format  string `json:"format"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil || req.URL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
			return
		}
		if !validURL(req.URL) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_url"})
			return
		}
		if req.Quality == "" {
			req.Quality = "720p"
		}
		if req.Format == "" {
			req.Format = "mp4"
		}
		if !format.IsKnownQuality(req.Quality) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_quality"})
			return
		}
		if !format.IsKnownContainer(req.Format) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_format"})
			return
		}
		s := starter.Start(context.Background(), req.URL, req.Quality, req.Format)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "success",
			"sessionId":   s.ID,
			"progressUrl": "/api/progress/" + s.ID,
		})
	}))

	mux.HandleFunc("/api/progress/", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/progress/")
		if id == "" || strings.Contains(id, "/") {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "session_not_found"})
			return
		}
		serveProgress(w, r, hub, id, opts.HeartbeatInterval)
	}))

	mux.HandleFunc("/api/file/", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/file/")
		if id == "" || strings.Contains(id, "/") {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "session_not_found"})
			return
		}
		serveFile(w, r, hub, id, opts.CleanupGrace)
	}))

	if history != nil {
		mux.HandleFunc("/api/history", with(rl, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			if id := r.URL.Query().Get("sessionId"); id != "" {
				rec, ok, err := history.GetSession(r.Context(), id)
				if err != nil {
					writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
					return
				}
				if !ok {
					writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "session_not_found"})
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"status": "success", "session": rec})
				return
			}
			limit := 0
			if v := r.URL.Query().Get("limit"); v != "" {
				_, _ = fmt.Sscanf(v, "%d", &limit)
			}
			rows, err := history.ListRecent(r.Context(), limit)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "history": rows})
		}))
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return recoverer(logger(mux))
}

// serveProgress streams session snapshots as server-sent events until the
// session reaches a terminal state or the client disconnects.
func serveProgress(w http.ResponseWriter, r *http.Request, hub sessionHub, id string, heartbeat time.Duration) {
	ch, cancel, ok := hub.Subscribe(id, 16)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "session_not_found"})
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "streaming_unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent(w, map[string]any{"type": "connected"})
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			writeEvent(w, map[string]any{"type": "heartbeat"})
			flusher.Flush()
		case snap, open := <-ch:
			if !open {
				return
			}
			writeEvent(w, snap)
			flusher.Flush()
			if snap.Status.Terminal() {
				return
			}
		}
	}
}

// serveFile delivers the finished download exactly once; the session (and its
// file) is cleaned up shortly after delivery.
func serveFile(w http.ResponseWriter, r *http.Request, hub sessionHub, id string, grace time.Duration) {
	s, ok := hub.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "session_not_found"})
		return
	}
	if s.Status != session.StatusCompleted {
		writeJSON(w, http.StatusConflict, map[string]any{"status": "error", "message": "not_completed"})
		return
	}
	f, err := os.Open(s.FilePath)
	if err != nil {
		writeJSON(w, http.StatusGone, map[string]any{"status": "error", "message": "file_expired"})
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeJSON(w, http.StatusGone, map[string]any{"status": "error", "message": "file_expired"})
		return
	}

	w.Header().Set("Content-Type", contentType(s.Format))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", s.VideoID+"."+s.Format))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)

	time.AfterFunc(grace, func() { hub.Cleanup(id) })
}

func contentType(container string) string {
	switch container {
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

func writeEvent(w io.Writer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
}

// availableQualities lists the known quality labels actually reachable given
// the streams on offer. With no usable heights every label is returned.
func availableQualities(formats []extract.FormatDescriptor) []string {
	maxH := 0
	for _, f := range formats {
		if f.HasVideo() && f.Height > maxH {
			maxH = f.Height
		}
	}
	if maxH == 0 {
		return format.KnownQualities
	}
	out := make([]string, 0, len(format.KnownQualities))
	for _, q := range format.KnownQualities {
		if q == "best" || format.QualityHeight(q) <= maxH {
			out = append(out, q)
		}
	}
	return out
}

func formatDuration(sec int64) string {
	if sec <= 0 {
		return "0:00"
	}
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Utilities

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"status": "error", "message": "method_not_allowed"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func validURL(u string) bool {
	if len(u) == 0 || len(u) > 2048 { // sanity cap
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed == nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	return true
}

// Middleware

func with(rl rateLimiter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": "error", "message": "rate_limited"})
			return
		}
		h(w, r)
	}
}

func logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		// The SSE handler blocks for the lifetime of the stream; logging it on
		// exit is still useful, heartbeats are not individually logged.
		logging.LogHTTPRequest(r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if logging.Logger != nil {
					logging.Logger.Error("panic in handler",
						"event", "handler_panic",
						"path", r.URL.Path,
						"panic", fmt.Sprintf("%v", v))
				}
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// Respect common proxy headers, then fall back to RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return strings.TrimSpace(xr)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
