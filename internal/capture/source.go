// Package capture opens camera streams and yields JPEG frames in capture
// order.
package capture

import (
	"bytes"
	"strings"
	"time"

	"go.uber.org/zap"

	"hotelcctv/internal/pipeline"
)

// Options configures a frame source
type Options struct {
	FPS         int
	Width       int
	Height      int
	ReadTimeout time.Duration // Max wait for one frame
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = 15
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	return o
}

// NewSource picks the capture strategy for a stream URL: still-image HTTP
// endpoints are polled, everything else (rtsp, http video, v4l2 devices)
// goes through ffmpeg.
func NewSource(cameraID, url string, opts Options) pipeline.FrameSource {
	if IsSnapshotURL(url) {
		return NewSnapshotSource(cameraID, url, opts)
	}
	return NewFFmpegSource(cameraID, url, opts)
}

// IsSnapshotURL reports whether url serves single JPEG images
func IsSnapshotURL(url string) bool {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return false
	}
	return strings.Contains(url, ".jpg") || strings.Contains(url, ".jpeg") || strings.Contains(url, "snapshot")
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// extractJPEGFrame cuts the first complete JPEG image out of buffer, dropping
// any leading garbage. It returns nil until a full image is buffered.
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	start := bytes.Index(buf, jpegSOI)
	if start < 0 {
		// Keep a trailing 0xFF in case the marker is split across reads
		if n := len(buf); n > 0 && buf[n-1] == 0xFF {
			*buffer = buf[n-1:]
		} else {
			*buffer = buf[:0]
		}
		return nil
	}
	end := bytes.Index(buf[start+2:], jpegEOI)
	if end < 0 {
		*buffer = buf[start:]
		return nil
	}
	end += start + 4

	frame := make([]byte, end-start)
	copy(frame, buf[start:end])
	*buffer = buf[end:]
	return frame
}
