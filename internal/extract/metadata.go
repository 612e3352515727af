package extract

// FormatDescriptor describes one concrete encoded stream offered by the
// source. A codec value of "none" means the stream lacks that track entirely
// (audio-only or video-only streams).
type FormatDescriptor struct {
	ID     string `json:"id"`
	Height int    `json:"height,omitempty"`
	Ext    string `json:"ext"`
	VCodec string `json:"vcodec,omitempty"`
	ACodec string `json:"acodec,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// HasVideo reports whether the stream carries a video track.
func (f FormatDescriptor) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// HasAudio reports whether the stream carries an audio track.
func (f FormatDescriptor) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

// Metadata is the normalized result of a successful extraction strategy.
// Fallback strategies may legitimately leave Formats empty.
type Metadata struct {
	Title        string
	ThumbnailURL string
	DurationSec  int64
	Formats      []FormatDescriptor
}

// toolInfo mirrors the subset of the tool's JSON dump we care about.
type toolInfo struct {
	Title      string       `json:"title"`
	Thumbnail  string       `json:"thumbnail"`
	Duration   float64      `json:"duration"`
	Formats    []toolFormat `json:"formats"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
}

type toolFormat struct {
	FormatID string  `json:"format_id"`
	Height   float64 `json:"height"`
	Ext      string  `json:"ext"`
	VCodec   string  `json:"vcodec"`
	ACodec   string  `json:"acodec"`
	Filesize float64 `json:"filesize"`
}

func (ti toolInfo) normalize(fallbackTitle string) Metadata {
	md := Metadata{
		Title:        ti.Title,
		ThumbnailURL: ti.Thumbnail,
		DurationSec:  int64(ti.Duration),
	}
	if md.Title == "" {
		md.Title = fallbackTitle
	}
	if md.ThumbnailURL == "" && len(ti.Thumbnails) > 0 {
		md.ThumbnailURL = ti.Thumbnails[0].URL
	}
	if len(ti.Formats) > 0 {
		md.Formats = make([]FormatDescriptor, 0, len(ti.Formats))
		for _, f := range ti.Formats {
			if f.FormatID == "" {
				continue
			}
			md.Formats = append(md.Formats, FormatDescriptor{
				ID:     f.FormatID,
				Height: int(f.Height),
				Ext:    f.Ext,
				VCodec: f.VCodec,
				ACodec: f.ACodec,
				Size:   int64(f.Filesize),
			})
		}
	}
	return md
}
