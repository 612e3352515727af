package download

import (
	"slices"
	"strings"
	"testing"

	"vidgrab/internal/format"
)

func argsFor(t *testing.T, req Request, sel format.Selection, merge bool) []string {
	t.Helper()
	return buildToolArgs(req, sel, merge)
}

func TestBuildToolArgs_Basic(t *testing.T) {
	req := Request{
		URL:        "https://example.com/watch?v=abc",
		Quality:    "720p",
		Format:     "mp4",
		OutputBase: "/tmp/out/abc_720p_1",
		Identity:   "android",
		UserAgent:  "UA/1.0",
	}
	sel := format.Selection{Selector: "22"}
	args := argsFor(t, req, sel, true)

	if args[len(args)-1] != req.URL {
		t.Errorf("expected URL last, got %q", args[len(args)-1])
	}
	fi := slices.Index(args, "-f")
	if fi < 0 || args[fi+1] != "22" {
		t.Errorf("expected -f 22, got %v", args)
	}
	oi := slices.Index(args, "-o")
	if oi < 0 || args[oi+1] != "/tmp/out/abc_720p_1.%(ext)s" {
		t.Errorf("expected wildcard extension template, got %v", args)
	}
	ui := slices.Index(args, "--user-agent")
	if ui < 0 || args[ui+1] != "UA/1.0" {
		t.Errorf("expected user agent arg, got %v", args)
	}
	ei := slices.Index(args, "--extractor-args")
	if ei < 0 || args[ei+1] != "youtube:player_client=android" {
		t.Errorf("expected player client identity, got %v", args)
	}
	if slices.Contains(args, "--merge-output-format") {
		t.Errorf("no merge args expected for a progressive selection: %v", args)
	}
}

func TestBuildToolArgs_MergeToRequestedMP4(t *testing.T) {
	req := Request{URL: "u", Format: "mp4", OutputBase: "/tmp/x"}
	sel := format.Selection{Selector: "137+140", Merge: true}

	args := argsFor(t, req, sel, true)
	mi := slices.Index(args, "--merge-output-format")
	if mi < 0 || args[mi+1] != "mp4" {
		t.Fatalf("expected merge container mp4, got %v", args)
	}
	found := false
	for _, a := range args {
		if strings.Contains(a, "faststart") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected faststart postprocessor args for mp4: %v", args)
	}

	// With merging left to the tool, no merge container is forced.
	args = argsFor(t, req, sel, false)
	if slices.Contains(args, "--merge-output-format") {
		t.Errorf("expected no forced merge container: %v", args)
	}
}

func TestBuildToolArgs_AudioExtraction(t *testing.T) {
	req := Request{URL: "u", Format: "mp3", OutputBase: "/tmp/x"}
	sel := format.Selection{Selector: "bestaudio/best", AudioOnly: true}

	args := argsFor(t, req, sel, true)
	if !slices.Contains(args, "-x") {
		t.Fatalf("expected audio extraction flag, got %v", args)
	}
	ai := slices.Index(args, "--audio-format")
	if ai < 0 || args[ai+1] != "mp3" {
		t.Errorf("expected audio format mp3, got %v", args)
	}
	if slices.Contains(args, "--merge-output-format") {
		t.Errorf("audio extraction must not force a merge container: %v", args)
	}
}
