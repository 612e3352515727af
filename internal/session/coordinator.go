package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"vidgrab/internal/download"
	"vidgrab/internal/extract"
)

// runner executes one download attempt. Satisfied by *download.Executor.
type runner interface {
	Run(ctx context.Context, req download.Request, events chan<- download.Progress) (string, error)
}

// metadataFetcher resolves title and formats once per download. Satisfied by
// *extract.Chain; its cache makes the call cheap after a metadata request.
type metadataFetcher interface {
	Fetch(ctx context.Context, mediaURL string) (extract.Metadata, error)
}

// identityLadder is the player-client retry order for download attempts.
var identityLadder = []string{"android", "ios", "web"}

// Coordinator ties the manager to the download executor: it owns the retry
// ladder across player identities and turns executor progress events into
// session updates.
type Coordinator struct {
	mgr     *Manager
	exec    runner
	fetcher metadataFetcher // may be nil
	outDir  string
}

func NewCoordinator(mgr *Manager, exec runner, fetcher metadataFetcher, outDir string) *Coordinator {
	return &Coordinator{mgr: mgr, exec: exec, fetcher: fetcher, outDir: outDir}
}

// Start creates a session and launches the download in the background. The
// returned snapshot is the session in its initial waiting state.
func (c *Coordinator) Start(ctx context.Context, mediaURL, quality, format string) Session {
	s := c.mgr.Create(VideoIDFromURL(mediaURL), mediaURL, quality, format)
	go c.run(ctx, s)
	return s
}

func (c *Coordinator) run(ctx context.Context, s Session) {
	base := filepath.Join(c.outDir,
		fmt.Sprintf("%s_%s_%d", sanitizeID(s.VideoID), s.Quality, time.Now().UnixNano()))
	defer func() {
		if v := recover(); v != nil {
			download.RemoveArtifacts(base)
			c.mgr.Fail(s.ID, fmt.Sprintf("internal error: %v", v))
		}
	}()

	c.mgr.SetDownloading(s.ID)

	// Resolve metadata once up front: the title goes onto the session and the
	// format list is reused across every identity attempt.
	var formats []extract.FormatDescriptor
	if c.fetcher != nil {
		if md, err := c.fetcher.Fetch(ctx, s.URL); err == nil {
			c.mgr.SetTitle(s.ID, md.Title)
			formats = md.Formats
		}
	}

	var lastErr error
	for _, identity := range identityLadder {
		events := make(chan download.Progress, 32)
		consumed := make(chan struct{})
		go func() {
			defer close(consumed)
			for p := range events {
				c.mgr.ApplyProgress(s.ID, p.Percent, p.Rate, p.ETA, p.TotalSize, p.Downloaded)
			}
		}()

		path, err := c.exec.Run(ctx, download.Request{
			SessionID:  s.ID,
			URL:        s.URL,
			Quality:    s.Quality,
			Format:     s.Format,
			OutputBase: base,
			Identity:   identity,
			UserAgent:  extract.RandomUserAgent(),
			Formats:    formats,
		}, events)
		<-consumed

		if err == nil {
			c.mgr.Complete(s.ID, path)
			return
		}
		lastErr = err
		// A timeout already consumed the whole budget; retrying with another
		// identity would just double it.
		if errors.Is(err, download.ErrDownloadTimeout) || ctx.Err() != nil {
			break
		}
	}
	// With --no-part the tool writes partial bytes straight to the final
	// path; after a failure nothing else owns that file.
	download.RemoveArtifacts(base)
	c.mgr.Fail(s.ID, lastErr.Error())
}

// VideoIDFromURL extracts a stable identifier from a media URL. It understands
// the common watch-URL shapes and falls back to the last path segment.
func VideoIDFromURL(mediaURL string) string {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return "video"
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "video"
	}
	segs := strings.Split(path, "/")
	return segs[len(segs)-1]
}

// sanitizeID strips characters that are unsafe in file names.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "video"
	}
	return b.String()
}
