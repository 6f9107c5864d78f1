package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hotelcctv/internal/pipeline"
)

// ErrReadTimeout is returned when no frame arrives within the read timeout
var ErrReadTimeout = errors.New("frame read timeout")

// FFmpegSource decodes a stream with an ffmpeg subprocess emitting MJPEG on
// stdout.
type FFmpegSource struct {
	cameraID string
	url      string
	opts     Options
	logger   *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	frames  chan []byte
	errCh   chan error
	pending []byte // first frame, read by Open
	seq     uint64
}

// NewFFmpegSource creates an unopened ffmpeg source
func NewFFmpegSource(cameraID, url string, opts Options) *FFmpegSource {
	opts = opts.withDefaults()
	return &FFmpegSource{
		cameraID: cameraID,
		url:      url,
		opts:     opts,
		logger:   opts.Logger.Named("capture").With(zap.String("camera_id", cameraID)),
	}
}

// ffmpegArgs builds the ffmpeg command line for a stream URL
func ffmpegArgs(url string, fps, width, height int) []string {
	var args []string
	switch {
	case strings.HasPrefix(url, "rtsp://"):
		args = []string{"-rtsp_transport", "tcp", "-i", url}
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		args = []string{"-i", url}
	default:
		// V4L2 device (USB camera)
		args = []string{"-f", "v4l2"}
		if width > 0 && height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", width, height))
		}
		args = append(args, "-framerate", fmt.Sprintf("%d", fps), "-i", url)
	}
	return append(args,
		"-loglevel", "error",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", fps),
		"-q:v", "5",
		"-",
	)
}

// Open starts ffmpeg and the stdout reader
func (s *FFmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, "ffmpeg", ffmpegArgs(s.url, s.opts.FPS, s.opts.Width, s.opts.Height)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.frames = make(chan []byte, 2)
	s.errCh = make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Debug("ffmpeg", zap.String("line", scanner.Text()))
		}
	}()
	go s.pump(runCtx, stdout, s.frames, s.errCh)

	// Wait for the first frame so an unreachable stream fails Open
	select {
	case data, ok := <-s.frames:
		if !ok {
			err := <-s.errCh
			s.closeLocked()
			return fmt.Errorf("stream closed before first frame: %w", err)
		}
		s.pending = data
	case <-time.After(s.opts.ReadTimeout):
		s.closeLocked()
		return fmt.Errorf("failed to open %s: %w", redact(s.url), ErrReadTimeout)
	case <-ctx.Done():
		s.closeLocked()
		return ctx.Err()
	}

	s.logger.Info("Stream opened", zap.String("url", redact(s.url)), zap.Int("fps", s.opts.FPS))
	return nil
}

func (s *FFmpegSource) pump(ctx context.Context, r io.Reader, out chan<- []byte, errCh chan<- error) {
	defer close(out)

	buf := make([]byte, 0, 1<<20)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&buf)
				if frame == nil {
					break
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("ffmpeg stream ended")
			}
			errCh <- err
			return
		}
	}
}

// Read returns the next frame or an error after the read timeout
func (s *FFmpegSource) Read(ctx context.Context) (*pipeline.FrameData, error) {
	s.mu.Lock()
	frames, errCh := s.frames, s.errCh
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if frames == nil {
		return nil, fmt.Errorf("source not open")
	}
	if pending != nil {
		return s.frame(pending), nil
	}

	timer := time.NewTimer(s.opts.ReadTimeout)
	defer timer.Stop()

	select {
	case data, ok := <-frames:
		if !ok {
			select {
			case err := <-errCh:
				return nil, err
			default:
				return nil, fmt.Errorf("ffmpeg stream ended")
			}
		}
		return s.frame(data), nil
	case <-timer.C:
		return nil, ErrReadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *FFmpegSource) frame(data []byte) *pipeline.FrameData {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	return &pipeline.FrameData{
		CameraID:  s.cameraID,
		Data:      data,
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     s.opts.Width,
		Height:    s.opts.Height,
	}
}

// Close kills ffmpeg. The source can be reopened.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *FFmpegSource) closeLocked() {
	if s.cmd == nil {
		return
	}
	s.cancel()
	_ = s.cmd.Wait()
	s.cmd = nil
	s.frames = nil
	s.errCh = nil
	s.pending = nil
}

// redact hides credentials embedded in stream URLs
func redact(url string) string {
	at := strings.LastIndex(url, "@")
	scheme := strings.Index(url, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
