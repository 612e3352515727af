package download

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"vidgrab/internal/extract"
	"vidgrab/internal/format"
	"vidgrab/internal/logging"
)

const toolName = "yt-dlp"

// metadataFetcher re-fetches available formats when the caller did not
// already have them. Satisfied by *extract.Chain.
type metadataFetcher interface {
	Fetch(ctx context.Context, url string) (extract.Metadata, error)
}

// Request describes one single-attempt download execution.
type Request struct {
	SessionID  string
	URL        string
	Quality    string
	Format     string
	OutputBase string // output path without extension
	Identity   string // emulated player client for this attempt
	UserAgent  string
	Formats    []extract.FormatDescriptor // optional; fetched when nil
}

// Executor runs a single tool invocation per call and converts its textual
// output into Progress events. The outer identity-retry loop belongs to the
// caller.
type Executor struct {
	fetcher          metadataFetcher
	timeout          time.Duration
	mergeToRequested bool
}

// NewExecutor creates an Executor. fetcher may be nil, in which case an empty
// format list (and thus the resolver fallback selector) is used when the
// request carries no formats.
func NewExecutor(fetcher metadataFetcher, timeout time.Duration, mergeToRequested bool) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Executor{fetcher: fetcher, timeout: timeout, mergeToRequested: mergeToRequested}
}

// CheckTool ensures the external tool is in PATH and runnable.
func CheckTool() error {
	p, err := exec.LookPath(toolName)
	if err != nil {
		return err
	}
	if err := exec.Command(p, "--version").Run(); err != nil {
		return fmt.Errorf("%s not runnable: %w", toolName, err)
	}
	return nil
}

// Run executes the tool once and blocks until it finishes. Progress events
// are sent on events while the tool runs; the channel is closed before Run
// returns, after which no more sends happen. On success the located output
// path is returned.
func (e *Executor) Run(ctx context.Context, req Request, events chan<- Progress) (string, error) {
	defer close(events)

	formats := req.Formats
	if formats == nil && e.fetcher != nil {
		// Metadata failures are not fatal here: the resolver degrades to its
		// fallback selector and the tool still gets a chance.
		if md, err := e.fetcher.Fetch(ctx, req.URL); err == nil {
			formats = md.Formats
		}
	}
	sel := format.Resolve(req.Quality, req.Format, formats)

	logging.LogToolCommand(req.SessionID, req.URL, sel.Selector, req.Identity)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := buildToolArgs(req, sel, e.mergeToRequested)
	cmd := exec.CommandContext(runCtx, toolName, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout: %w", err)
	}
	var stderrBuf bytes.Buffer

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start: %w", err)
	}

	// Scan both streams incrementally; the tool is inconsistent about which
	// one carries progress.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.scanProgress(runCtx, req.SessionID, bufio.NewScanner(io.TeeReader(stderr, &stderrBuf)), events)
	}()
	go func() {
		defer wg.Done()
		e.scanProgress(runCtx, req.SessionID, bufio.NewScanner(stdout), events)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: exceeded %s", ErrDownloadTimeout, e.timeout)
		}
		tail := tailString(stderrBuf.String(), 512)
		if tail != "" {
			return "", fmt.Errorf("%w: %v: %s", ErrToolFailed, err, tail)
		}
		return "", fmt.Errorf("%w: %v", ErrToolFailed, err)
	}

	path := locateOutput(req.OutputBase, req.Format)
	if path == "" {
		return "", fmt.Errorf("%w: no file for %s", ErrOutputNotFound, req.OutputBase)
	}
	return path, nil
}

// buildToolArgs assembles the tool argument vector for one attempt.
func buildToolArgs(req Request, sel format.Selection, mergeToRequested bool) []string {
	args := []string{
		"--newline", "--no-color", "--no-playlist", "--no-part",
		"-f", sel.Selector,
		"-o", req.OutputBase + ".%(ext)s",
	}
	if req.UserAgent != "" {
		args = append(args, "--user-agent", req.UserAgent)
	}
	if req.Identity != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+req.Identity)
	}
	switch {
	case sel.AudioOnly:
		args = append(args, "-x", "--audio-format", req.Format, "--audio-quality", "192K")
	case sel.Merge && mergeToRequested && req.Format == "mp4":
		args = append(args,
			"--merge-output-format", "mp4",
			"--postprocessor-args", "ffmpeg:-movflags +faststart")
	case sel.Merge && mergeToRequested && req.Format != "":
		args = append(args, "--merge-output-format", req.Format)
	}
	return append(args, req.URL)
}

func (e *Executor) scanProgress(ctx context.Context, sessionID string, sc *bufio.Scanner, events chan<- Progress) {
	sc.Buffer(make([]byte, 4096), 256*1024)
	sc.Split(scanCRorLF)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p, ok := parseProgressLine(line)
		if !ok {
			continue
		}
		select {
		case events <- p:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		logging.LogProgressScanError(sessionID, err)
	}
}
