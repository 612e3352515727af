package download

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Progress is one parsed progress event from the tool's output stream.
type Progress struct {
	Percent    float64 `json:"percent"`
	TotalSize  string  `json:"totalSize"`
	Rate       string  `json:"rate"`
	ETA        string  `json:"eta"`
	Downloaded string  `json:"downloaded"`
}

// Calculating is the sentinel used while the tool has not reported a value yet.
const Calculating = "calculating..."

// The tool prints progress lines like:
//
//	[download]   3.4% of   64.00MiB at    1.23MiB/s ETA 00:50
//	[download]  45.2% of ~  85.49MiB at    2.48MiB/s ETA 00:27 (frag 4/17)
//	[download] 100% of   11.21MiB in 00:04
//
// Rate and ETA are optional; size may be prefixed with ~ when estimated.
var progressRe = regexp.MustCompile(`(\d+(?:\.\d+)?)%\s+of\s+~?\s*(\S+)(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)

// parseProgressLine extracts a Progress event from one output line. Lines
// from other tool phases (merger, post-processing) are rejected so their
// percentages never pollute download progress.
func parseProgressLine(line string) (Progress, bool) {
	if !strings.HasPrefix(line, "[download]") {
		return Progress{}, false
	}
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return Progress{}, false
	}

	p := Progress{
		Percent:    pct,
		TotalSize:  m[2],
		Rate:       Calculating,
		ETA:        Calculating,
		Downloaded: Calculating,
	}
	if m[3] != "" && !strings.EqualFold(m[3], "unknown") {
		p.Rate = m[3]
	}
	if m[4] != "" && !strings.EqualFold(m[4], "unknown") {
		p.ETA = m[4]
	}
	if total, err := humanize.ParseBytes(p.TotalSize); err == nil && total > 0 {
		p.Downloaded = humanize.IBytes(uint64(pct / 100 * float64(total)))
	}
	return p, true
}

// scanCRorLF is like bufio.ScanLines but treats a bare '\r' as a line
// terminator as well, since the tool rewrites progress on the same line
// using carriage returns. It also handles CRLF and strips a trailing CR.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			line := data[:i]
			if i > 0 && data[i-1] == '\r' {
				line = data[:i-1]
			}
			return i + 1, line, nil
		}
		if data[i] == '\r' {
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		if len(data) > 0 && data[len(data)-1] == '\r' {
			return len(data), data[:len(data)-1], nil
		}
		return len(data), data, nil
	}
	return 0, nil, nil
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
