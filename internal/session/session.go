package session

import "time"

// Status is the lifecycle state of a download session.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Session is the tracked state of one download request. Snapshots of it are
// serialized directly onto the progress stream.
type Session struct {
	ID         string    `json:"sessionId"`
	VideoID    string    `json:"videoId"`
	Title      string    `json:"title,omitempty"`
	Quality    string    `json:"quality"`
	Format     string    `json:"format"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	Rate       string    `json:"rate,omitempty"`
	ETA        string    `json:"eta,omitempty"`
	TotalSize  string    `json:"totalSize,omitempty"`
	Downloaded string    `json:"downloaded,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`

	// Not exposed over the wire.
	URL      string `json:"-"`
	FilePath string `json:"-"`
}
