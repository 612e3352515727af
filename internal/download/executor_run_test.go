package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// stubTool installs an executable shell script named like the real tool at
// the front of PATH, so Executor.Run exercises the full subprocess path:
// argument passing, pipe scanning, exit-code handling and output location.
func stubTool(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, toolName)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// runCollect runs the executor and drains every progress event.
func runCollect(t *testing.T, e *Executor, req Request) (string, []Progress, error) {
	t.Helper()
	events := make(chan Progress, 32)
	var got []Progress
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range events {
			got = append(got, p)
		}
	}()
	path, err := e.Run(context.Background(), req, events)
	<-done
	return path, got, err
}

func TestRun_SuccessParsesLiveProgress(t *testing.T) {
	// The stub rewrites progress with bare carriage returns the way the real
	// tool does, then writes the output file the -o template names.
	stubTool(t, `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
out=$(printf '%s' "$out" | sed 's/%(ext)s$/mp4/')
printf '%s\r' '[download]  10.0% of 10.00MiB at 1.00MiB/s ETA 00:05'
printf '%s\r\n' '[download]  55.5% of 10.00MiB at 2.00MiB/s ETA 00:02'
printf '%s\n' '[download] 100% of 10.00MiB in 00:04'
: > "$out"
`)
	e := NewExecutor(nil, 10*time.Second, true)
	base := filepath.Join(t.TempDir(), "vid_720p_run1")

	path, got, err := runCollect(t, e, Request{
		SessionID:  "s1",
		URL:        "https://example.com/v/abc",
		Quality:    "720p",
		Format:     "mp4",
		OutputBase: base,
		Identity:   "android",
		UserAgent:  "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != base+".mp4" {
		t.Errorf("wrong output path: %q", path)
	}
	if len(got) < 3 {
		t.Fatalf("expected 3 progress events, got %d: %+v", len(got), got)
	}
	if got[0].Percent != 10 {
		t.Errorf("first event percent = %f", got[0].Percent)
	}
	if last := got[len(got)-1]; last.Percent != 100 {
		t.Errorf("last event percent = %f", last.Percent)
	}
}

func TestRun_TimeoutKillsTool(t *testing.T) {
	// exec replaces the shell so the deadline kill reaches the sleeping
	// process itself; otherwise it would keep the pipes open for 5 seconds.
	stubTool(t, "#!/bin/sh\nexec sleep 5\n")
	e := NewExecutor(nil, 100*time.Millisecond, true)
	base := filepath.Join(t.TempDir(), "vid_720p_run2")

	start := time.Now()
	_, _, err := runCollect(t, e, Request{
		SessionID:  "s2",
		URL:        "https://example.com/v/abc",
		Quality:    "720p",
		Format:     "mp4",
		OutputBase: base,
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrDownloadTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("kill did not reach the child; run took %s", elapsed)
	}
}

func TestRun_NonZeroExitSurfacesStderr(t *testing.T) {
	stubTool(t, `#!/bin/sh
echo 'ERROR: HTTP Error 403: Forbidden' >&2
exit 1
`)
	e := NewExecutor(nil, 10*time.Second, true)
	base := filepath.Join(t.TempDir(), "vid_720p_run3")

	_, _, err := runCollect(t, e, Request{
		SessionID:  "s3",
		URL:        "https://example.com/v/abc",
		Quality:    "720p",
		Format:     "mp4",
		OutputBase: base,
	})
	if !errors.Is(err, ErrToolFailed) {
		t.Fatalf("expected tool failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("stderr tail not surfaced: %v", err)
	}
}

func TestRun_CleanExitWithoutOutput(t *testing.T) {
	stubTool(t, `#!/bin/sh
printf '%s\n' '[download] 100% of 10.00MiB in 00:04'
`)
	e := NewExecutor(nil, 10*time.Second, true)
	base := filepath.Join(t.TempDir(), "vid_720p_run4")

	_, got, err := runCollect(t, e, Request{
		SessionID:  "s4",
		URL:        "https://example.com/v/abc",
		Quality:    "720p",
		Format:     "mp4",
		OutputBase: base,
	})
	if !errors.Is(err, ErrOutputNotFound) {
		t.Fatalf("expected missing-output error, got %v", err)
	}
	// The progress stream was still live even though no file appeared.
	if len(got) != 1 || got[0].Percent != 100 {
		t.Errorf("unexpected events: %+v", got)
	}
}
