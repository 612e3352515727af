package download

import "os"

// knownExtensions is the probe order for locating output when the tool picked
// a different container than requested.
var knownExtensions = []string{"mp4", "webm", "mkv", "m4a", "mp3", "opus", "flv", "avi", "mov"}

// locateOutput finds the file the tool produced for the given output base.
// It probes the requested extension verbatim first, then the common media
// containers sharing the same base name. Returns "" when nothing exists.
func locateOutput(base, requestedExt string) string {
	if requestedExt != "" {
		if p := base + "." + requestedExt; fileExists(p) {
			return p
		}
	}
	for _, ext := range knownExtensions {
		if ext == requestedExt {
			continue
		}
		if p := base + "." + ext; fileExists(p) {
			return p
		}
	}
	return ""
}

// RemoveArtifacts deletes any output files sharing the given base name. The
// tool writes straight to the final path, so a failed or killed run can leave
// partial bytes behind that nothing else owns.
func RemoveArtifacts(base string) {
	for _, ext := range knownExtensions {
		p := base + "." + ext
		if fileExists(p) {
			_ = os.Remove(p)
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
