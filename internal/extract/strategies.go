package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
)

const toolName = "yt-dlp"

// Strategy is one self-contained way of fetching metadata for a URL. A
// strategy must not assume any other strategy ran before it.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, mediaURL, userAgent string) (Metadata, error)
}

// DefaultStrategies returns the fixed, ordered strategy list: emulated player
// clients first, then the embedded-player client, then the oEmbed endpoint
// which needs no tool at all but returns no format list.
func DefaultStrategies() []Strategy {
	return []Strategy{
		&clientStrategy{client: "android"},
		&clientStrategy{client: "ios"},
		&clientStrategy{client: "web"},
		&clientStrategy{client: "web_embedded", name: "embed"},
		&oembedStrategy{httpc: http.DefaultClient},
	}
}

// clientStrategy probes metadata through the external tool while emulating a
// specific player client identity.
type clientStrategy struct {
	client string
	name   string // optional display name; defaults to client
}

func (s *clientStrategy) Name() string {
	if s.name != "" {
		return s.name
	}
	return s.client
}

func (s *clientStrategy) Attempt(ctx context.Context, mediaURL, userAgent string) (Metadata, error) {
	args := []string{
		"-J", "--no-playlist", "--no-warnings",
		"--extractor-args", "youtube:player_client=" + s.client,
		"--user-agent", userAgent,
		mediaURL,
	}
	cmd := exec.CommandContext(ctx, toolName, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, fmt.Errorf("%s: %w", s.Name(), ctx.Err())
		}
		tail := tailString(stderr.String(), 256)
		if tail != "" {
			return Metadata{}, fmt.Errorf("%s: %w: %s", s.Name(), err, tail)
		}
		return Metadata{}, fmt.Errorf("%s: %w", s.Name(), err)
	}

	var info toolInfo
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &info); err != nil {
		return Metadata{}, fmt.Errorf("%s: decode info: %w", s.Name(), err)
	}
	md := info.normalize(mediaURL)
	if info.Title == "" && len(md.Formats) == 0 {
		return Metadata{}, fmt.Errorf("%s: %w", s.Name(), ErrNoMediaInfo)
	}
	return md, nil
}

// oembedStrategy queries the public oEmbed endpoint over plain HTTP. It is
// the cheapest fallback: no subprocess and hard to block, but it yields no
// format list, so the resolver's fallback selector takes over downstream.
type oembedStrategy struct {
	httpc    *http.Client
	endpoint string // overridable for tests
}

func (s *oembedStrategy) Name() string { return "oembed" }

func (s *oembedStrategy) Attempt(ctx context.Context, mediaURL, userAgent string) (Metadata, error) {
	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = "https://www.youtube.com/oembed"
	}
	reqURL := endpoint + "?format=json&url=" + url.QueryEscape(mediaURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("oembed: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("oembed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("oembed: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Title        string `json:"title"`
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Metadata{}, fmt.Errorf("oembed: decode: %w", err)
	}
	if body.Title == "" {
		return Metadata{}, fmt.Errorf("oembed: %w", ErrNoMediaInfo)
	}
	return Metadata{Title: body.Title, ThumbnailURL: body.ThumbnailURL}, nil
}

// tailString returns the last at most n bytes from s (by rune boundary best-effort).
func tailString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-n:])
}
