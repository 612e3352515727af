package download

import (
	"strings"
	"testing"
)

func TestParseProgressLine_Full(t *testing.T) {
	p, ok := parseProgressLine("[download]   3.4% of   64.00MiB at    1.23MiB/s ETA 00:50")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Percent != 3.4 {
		t.Errorf("expected percent 3.4, got %f", p.Percent)
	}
	if p.TotalSize != "64.00MiB" {
		t.Errorf("expected total 64.00MiB, got %q", p.TotalSize)
	}
	if p.Rate != "1.23MiB/s" {
		t.Errorf("expected rate, got %q", p.Rate)
	}
	if p.ETA != "00:50" {
		t.Errorf("expected ETA 00:50, got %q", p.ETA)
	}
	// 3.4% of 64MiB is about 2.2MiB
	if !strings.Contains(p.Downloaded, "MiB") {
		t.Errorf("expected derived downloaded size, got %q", p.Downloaded)
	}
}

func TestParseProgressLine_EstimatedSize(t *testing.T) {
	p, ok := parseProgressLine("[download]  45.2% of ~  85.49MiB at    2.48MiB/s ETA 00:27 (frag 4/17)")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Percent != 45.2 || p.TotalSize != "85.49MiB" {
		t.Errorf("unexpected parse: %+v", p)
	}
}

func TestParseProgressLine_MissingRateAndETA(t *testing.T) {
	p, ok := parseProgressLine("[download] 100% of   11.21MiB in 00:04")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Percent != 100 {
		t.Errorf("expected percent 100, got %f", p.Percent)
	}
	if p.Rate != Calculating {
		t.Errorf("expected calculating sentinel for rate, got %q", p.Rate)
	}
	if p.ETA != Calculating {
		t.Errorf("expected calculating sentinel for ETA, got %q", p.ETA)
	}
}

func TestParseProgressLine_UnknownRate(t *testing.T) {
	p, ok := parseProgressLine("[download]   0.0% of   11.21MiB at Unknown ETA Unknown")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Rate != Calculating || p.ETA != Calculating {
		t.Errorf("expected sentinels for unknown values, got rate=%q eta=%q", p.Rate, p.ETA)
	}
}

func TestParseProgressLine_IgnoresOtherPhases(t *testing.T) {
	lines := []string{
		"[youtube] abc123: Downloading webpage",
		"[Merger] Merging formats into \"file.mp4\" 100%",
		"[ffmpeg] Post-process file 100% of 10MiB",
		"some random noise 50% of nothing",
		"",
	}
	for _, ln := range lines {
		if _, ok := parseProgressLine(ln); ok {
			t.Errorf("expected line to be ignored: %q", ln)
		}
	}
}

func TestParseProgressLine_UnparseableTotalKeepsSentinel(t *testing.T) {
	p, ok := parseProgressLine("[download]  12.0% of unknown-size at 1MiB/s ETA 00:10")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.Downloaded != Calculating {
		t.Errorf("expected calculating downloaded for unparseable total, got %q", p.Downloaded)
	}
}

// Carriage-return-delimited progress (no newlines) must still split into lines.
func TestScanCRorLF_SplitsOnCarriageReturn(t *testing.T) {
	stream := "[download]  10.0% of 10MiB at 1MiB/s ETA 00:09\r[download]  25.0% of 10MiB at 1MiB/s ETA 00:07\r\n[download]  50.0% of 10MiB at 1MiB/s ETA 00:05"
	var lines []string
	data := []byte(stream)
	for len(data) > 0 {
		adv, tok, err := scanCRorLF(data, true)
		if err != nil {
			t.Fatalf("scan error: %v", err)
		}
		if adv == 0 {
			break
		}
		lines = append(lines, string(tok))
		data = data[adv:]
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), lines)
	}
	for i, want := range []float64{10, 25, 50} {
		p, ok := parseProgressLine(lines[i])
		if !ok || p.Percent != want {
			t.Errorf("line %d: expected percent %f, got %+v ok=%v", i, want, p, ok)
		}
	}
}
