// Package clip persists event evidence: a playable H.264 clip, a labelled
// thumbnail and a JSON sidecar.
package clip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTranscode marks a failed clip encode
var ErrTranscode = errors.New("clip transcode failed")

// Transcoder turns a sequence of JPEG frames into a playable video file
type Transcoder interface {
	Transcode(ctx context.Context, frames [][]byte, dst string) error
}

// FFmpegTranscoder pipes MJPEG into ffmpeg and writes an mp4 (libx264)
type FFmpegTranscoder struct {
	Binary  string
	FPS     int
	Timeout time.Duration
}

// NewFFmpegTranscoder returns a transcoder with defaults applied
func NewFFmpegTranscoder(fps int, timeout time.Duration) *FFmpegTranscoder {
	if fps <= 0 {
		fps = 8
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &FFmpegTranscoder{Binary: "ffmpeg", FPS: fps, Timeout: timeout}
}

func (t *FFmpegTranscoder) args(dst string) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-framerate", fmt.Sprintf("%d", t.FPS),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		dst,
	}
}

// Transcode encodes frames into dst
func (t *FFmpegTranscoder) Transcode(ctx context.Context, frames [][]byte, dst string) error {
	if len(frames) == 0 {
		return fmt.Errorf("%w: no frames", ErrTranscode)
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	var input bytes.Buffer
	for _, f := range frames {
		input.Write(f)
	}

	cmd := exec.CommandContext(ctx, t.Binary, t.args(dst)...)
	cmd.Stdin = &input
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrTranscode, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
