package logging

import (
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	// Logger is the global structured logger instance
	Logger *slog.Logger
)

// Init initializes the global structured logger
func Init(level slog.Level) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Format time as ISO8601
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactURL removes secrets from URL logs while retaining debugging value.
// It strips userinfo and masks query parameter values.
func RedactURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed == nil {
		return rawURL
	}

	parsed.User = nil

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			query.Set(key, "***")
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// Helper functions for common logging patterns

// LogSessionCreate logs the creation of a download session
func LogSessionCreate(sessionID, videoID, quality, format string) {
	if Logger == nil {
		return
	}
	Logger.Info("session created",
		"event", "session_create",
		"session_id", sessionID,
		"video_id", videoID,
		"quality", quality,
		"format", format)
}

// LogSessionStateChange logs session state transitions
func LogSessionStateChange(sessionID, status, errMsg string) {
	if Logger == nil {
		return
	}
	if errMsg != "" {
		Logger.Info("session state changed",
			"event", "session_state_change",
			"session_id", sessionID,
			"status", status,
			"error", errMsg)
		return
	}
	Logger.Info("session state changed",
		"event", "session_state_change",
		"session_id", sessionID,
		"status", status)
}

// LogSessionCleanup logs session cleanup, including file removal outcome
func LogSessionCleanup(sessionID, filePath string, fileErr error) {
	if Logger == nil {
		return
	}
	if fileErr != nil {
		Logger.Warn("session cleaned up, file removal failed",
			"event", "session_cleanup",
			"session_id", sessionID,
			"file", filePath,
			"error", fileErr)
		return
	}
	Logger.Info("session cleaned up",
		"event", "session_cleanup",
		"session_id", sessionID,
		"file", filePath)
}

// LogSweep logs a cleanup sweep pass
func LogSweep(removed int) {
	if Logger == nil {
		return
	}
	if removed == 0 {
		return
	}
	Logger.Info("expired sessions swept",
		"event", "session_sweep",
		"removed", removed)
}

// LogDownloadProgress logs download progress updates
func LogDownloadProgress(sessionID string, progress float64) {
	if Logger == nil {
		return
	}
	Logger.Debug("download progress",
		"event", "download_progress",
		"session_id", sessionID,
		"progress", progress)
}

// LogExtractionAttempt logs one metadata strategy attempt
func LogExtractionAttempt(strategy, url string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Warn("extraction strategy failed",
			"event", "extraction_attempt",
			"strategy", strategy,
			"url", RedactURL(url),
			"error", err)
		return
	}
	Logger.Info("extraction strategy succeeded",
		"event", "extraction_attempt",
		"strategy", strategy,
		"url", RedactURL(url))
}

// LogToolCommand logs external tool invocations
func LogToolCommand(sessionID, url, selector, identity string) {
	if Logger == nil {
		return
	}
	Logger.Info("tool command started",
		"event", "tool_start",
		"session_id", sessionID,
		"url", RedactURL(url),
		"selector", selector,
		"identity", identity)
}

// LogProgressScanError logs progress scanning errors
func LogProgressScanError(sessionID string, err error) {
	if Logger == nil {
		return
	}
	Logger.Warn("progress scan error",
		"event", "progress_scan_error",
		"session_id", sessionID,
		"error", err)
}

// LogDBOperation logs database operations
func LogDBOperation(operation, sessionID string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("database operation failed",
			"event", "db_operation_error",
			"operation", operation,
			"session_id", sessionID,
			"error", err)
		return
	}
	Logger.Debug("database operation",
		"event", "db_operation",
		"operation", operation,
		"session_id", sessionID)
}

// LogHTTPRequest logs HTTP request handling
func LogHTTPRequest(method, path, remoteAddr string, duration time.Duration) {
	if Logger == nil {
		return
	}
	Logger.Info("http request",
		"event", "http_request",
		"method", method,
		"path", path,
		"remote_addr", remoteAddr,
		"duration_ms", duration.Milliseconds())
}

// LogServerStart logs server startup
func LogServerStart(addr string, config map[string]any) {
	if Logger == nil {
		return
	}
	attrs := []any{
		"event", "server_start",
		"addr", addr,
	}
	for k, v := range config {
		attrs = append(attrs, k, v)
	}
	Logger.Info("server started", attrs...)
}

// LogServerShutdown logs server shutdown events
func LogServerShutdown(msg string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error(msg,
			"event", "server_shutdown_error",
			"error", err)
	} else {
		Logger.Info(msg,
			"event", "server_shutdown")
	}
}
