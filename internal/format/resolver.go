package format

import (
	"fmt"
	"strings"

	"vidgrab/internal/extract"
)

// qualityHeights maps the fixed quality labels onto pixel heights.
var qualityHeights = map[string]int{
	"2160p": 2160,
	"1440p": 1440,
	"1080p": 1080,
	"720p":  720,
	"480p":  480,
	"360p":  360,
}

const (
	defaultHeight   = 720
	unboundedHeight = 1 << 30
)

// KnownQualities lists the accepted quality labels, best first.
var KnownQualities = []string{"best", "2160p", "1440p", "1080p", "720p", "480p", "360p"}

// VideoContainers and AudioContainers enumerate the accepted request formats.
var (
	VideoContainers = []string{"mp4", "webm"}
	AudioContainers = []string{"mp3", "m4a"}
)

// QualityHeight converts a quality label into a height ceiling. "best" is
// unbounded; unrecognized labels fall back to 720.
func QualityHeight(quality string) int {
	if quality == "best" {
		return unboundedHeight
	}
	if h, ok := qualityHeights[quality]; ok {
		return h
	}
	return defaultHeight
}

// IsKnownQuality reports whether the label is in the accepted set.
func IsKnownQuality(quality string) bool {
	if quality == "best" {
		return true
	}
	_, ok := qualityHeights[quality]
	return ok
}

// IsKnownContainer reports whether the container is in the accepted set.
func IsKnownContainer(container string) bool {
	for _, c := range VideoContainers {
		if c == container {
			return true
		}
	}
	for _, c := range AudioContainers {
		if c == container {
			return true
		}
	}
	return false
}

// IsAudioContainer reports whether the container is audio-only.
func IsAudioContainer(container string) bool {
	for _, c := range AudioContainers {
		if c == container {
			return true
		}
	}
	return false
}

// Selection is the concrete outcome of resolving a quality/format request
// against the available streams.
type Selection struct {
	Selector  string // tool format selector (stream id, "vid+aid" pair, or expression)
	Height    int    // actually selected height, 0 when unknown
	Ext       string // actually selected container, "" when unknown
	Merge     bool   // selection combines separate video and audio streams
	AudioOnly bool   // audio extraction request

	// Originally requested values, kept for diagnostics.
	RequestedQuality string
	RequestedFormat  string
}

// Resolve maps a quality/container request onto the available formats.
// Priority order:
//  1. progressive stream in the requested container, greatest height <= ceiling
//  2. progressive stream in any container, greatest height <= ceiling
//  3. best video-only stream <= ceiling merged with a container-affine audio stream
//  4. best single stream of any kind <= ceiling
//  5. a height-capped fallback selector when the format list is empty or unusable
//
// The selected height never exceeds the requested ceiling. Pure function: no
// network, no subprocess.
func Resolve(quality, container string, formats []extract.FormatDescriptor) Selection {
	sel := Selection{RequestedQuality: quality, RequestedFormat: container}

	if IsAudioContainer(container) {
		return resolveAudio(sel, formats)
	}

	ceiling := QualityHeight(quality)

	// Rule 1: progressive, exact container match.
	if f, ok := bestProgressive(formats, ceiling, container); ok {
		sel.Selector = f.ID
		sel.Height = f.Height
		sel.Ext = f.Ext
		return sel
	}

	// Rule 2: progressive, any container.
	if f, ok := bestProgressive(formats, ceiling, ""); ok {
		sel.Selector = f.ID
		sel.Height = f.Height
		sel.Ext = f.Ext
		return sel
	}

	// Rule 3: merge best video-only with a container-affine audio stream.
	if v, ok := bestVideoOnly(formats, ceiling); ok {
		if a, ok := pickAudioFor(formats, container); ok {
			sel.Selector = v.ID + "+" + a.ID
			sel.Height = v.Height
			sel.Ext = v.Ext
			sel.Merge = true
			return sel
		}
	}

	// Rule 4: best single stream of any kind.
	if f, ok := bestAnyStream(formats, ceiling); ok {
		sel.Selector = f.ID
		sel.Height = f.Height
		sel.Ext = f.Ext
		return sel
	}

	// Rule 5: nothing usable; let the tool pick under the ceiling.
	sel.Selector = fallbackSelector(ceiling)
	sel.Merge = true
	return sel
}

func resolveAudio(sel Selection, formats []extract.FormatDescriptor) Selection {
	sel.AudioOnly = true
	var best extract.FormatDescriptor
	found := false
	for _, f := range formats {
		if !f.HasAudio() || f.HasVideo() {
			continue
		}
		if !found || f.Size > best.Size {
			best = f
			found = true
		}
	}
	if found {
		sel.Selector = best.ID
		sel.Ext = best.Ext
		return sel
	}
	sel.Selector = "bestaudio/best"
	return sel
}

func bestProgressive(formats []extract.FormatDescriptor, ceiling int, container string) (extract.FormatDescriptor, bool) {
	var best extract.FormatDescriptor
	found := false
	for _, f := range formats {
		if !f.HasVideo() || !f.HasAudio() {
			continue
		}
		if f.Height <= 0 || f.Height > ceiling {
			continue
		}
		if container != "" && f.Ext != container {
			continue
		}
		if !found || f.Height > best.Height {
			best = f
			found = true
		}
	}
	return best, found
}

func bestVideoOnly(formats []extract.FormatDescriptor, ceiling int) (extract.FormatDescriptor, bool) {
	var best extract.FormatDescriptor
	found := false
	for _, f := range formats {
		if !f.HasVideo() || f.HasAudio() {
			continue
		}
		if f.Height <= 0 || f.Height > ceiling {
			continue
		}
		if !found || f.Height > best.Height {
			best = f
			found = true
		}
	}
	return best, found
}

// pickAudioFor prefers an audio-only stream whose codec suits the requested
// container; otherwise the first audio-only stream available.
func pickAudioFor(formats []extract.FormatDescriptor, container string) (extract.FormatDescriptor, bool) {
	var first extract.FormatDescriptor
	foundFirst := false
	for _, f := range formats {
		if !f.HasAudio() || f.HasVideo() {
			continue
		}
		if !foundFirst {
			first = f
			foundFirst = true
		}
		if audioSuits(f, container) {
			return f, true
		}
	}
	return first, foundFirst
}

func audioSuits(f extract.FormatDescriptor, container string) bool {
	switch container {
	case "mp4":
		return strings.HasPrefix(f.ACodec, "mp4a") || f.Ext == "m4a"
	case "webm":
		return strings.HasPrefix(f.ACodec, "opus") || strings.HasPrefix(f.ACodec, "vorbis") || f.Ext == "webm"
	default:
		return false
	}
}

func bestAnyStream(formats []extract.FormatDescriptor, ceiling int) (extract.FormatDescriptor, bool) {
	var best extract.FormatDescriptor
	found := false
	for _, f := range formats {
		if !f.HasVideo() && !f.HasAudio() {
			continue
		}
		if f.Height > ceiling {
			continue
		}
		if !found || f.Height > best.Height {
			best = f
			found = true
		}
	}
	return best, found
}

func fallbackSelector(ceiling int) string {
	if ceiling >= unboundedHeight {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", ceiling, ceiling)
}
