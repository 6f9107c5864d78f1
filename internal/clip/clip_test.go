package clip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hotelcctv/internal/pipeline"
)

type fakeTranscoder struct {
	err    error
	frames int
}

func (f *fakeTranscoder) Transcode(_ context.Context, frames [][]byte, dst string) error {
	f.frames = len(frames)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("mp4"), 0o644)
}

func jpegFrame(t *testing.T, seq uint64, w, h int) *pipeline.FrameData {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return &pipeline.FrameData{Seq: seq, Data: buf.Bytes()}
}

func request(t *testing.T) Request {
	return Request{
		EventID:   "0123456789abcdef",
		CameraID:  "lobby",
		EventType: pipeline.EventFire,
		Detection: pipeline.Detection{
			Label:      pipeline.LabelFire,
			Confidence: 0.75,
			BBox:       pipeline.BBox{X1: 10, Y1: 20, X2: 100, Y2: 200},
			FrameIndex: 42,
			Metadata:   map[string]any{"type": "fire_smoke"},
		},
		Frames:     []*pipeline.FrameData{jpegFrame(t, 1, 1280, 720), jpegFrame(t, 2, 1280, 720)},
		Validation: &pipeline.Verdict{Accepted: true, Confidence: 0.9, Reason: "flames visible"},
		Time:       time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

func TestWriterWritesArtifacts(t *testing.T) {
	t.Parallel()

	tc := &fakeTranscoder{}
	w := NewWriter(WriterConfig{Dir: t.TempDir(), Transcoder: tc, Logger: zap.NewNop()})

	res, err := w.Write(context.Background(), request(t))
	require.NoError(t, err)
	assert.Equal(t, 2, tc.frames)
	assert.FileExists(t, res.ClipPath)
	assert.Contains(t, res.ClipPath, "lobby/20260304/fire_050607_01234567.mp4")

	f, err := os.Open(res.ThumbnailPath)
	require.NoError(t, err)
	defer f.Close()
	thumb, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 640, thumb.Bounds().Dx())
	assert.Equal(t, 360, thumb.Bounds().Dy())

	raw, err := os.ReadFile(res.SidecarPath)
	require.NoError(t, err)
	var sc Sidecar
	require.NoError(t, json.Unmarshal(raw, &sc))
	assert.Equal(t, "fire_050607_01234567.mp4", sc.Clip)
	assert.Equal(t, [4]int{10, 20, 100, 200}, sc.BBox)
	assert.Equal(t, uint64(42), sc.FrameNumber)
	require.NotNil(t, sc.Validation)
	assert.Equal(t, "flames visible", sc.Validation.Reason)
}

func TestWriterKeepsSidecarWhenTranscodeFails(t *testing.T) {
	t.Parallel()

	tc := &fakeTranscoder{err: errors.Join(ErrTranscode, errors.New("exit status 1"))}
	w := NewWriter(WriterConfig{Dir: t.TempDir(), Transcoder: tc, Logger: zap.NewNop()})

	res, err := w.Write(context.Background(), request(t))
	require.ErrorIs(t, err, ErrTranscode)
	assert.Empty(t, res.ClipPath)
	assert.FileExists(t, res.ThumbnailPath)

	raw, err := os.ReadFile(res.SidecarPath)
	require.NoError(t, err)
	var sc Sidecar
	require.NoError(t, json.Unmarshal(raw, &sc))
	assert.Empty(t, sc.Clip)
	assert.NotEmpty(t, sc.Thumbnail)
}

func TestWriterPrefersAnnotatedFrame(t *testing.T) {
	t.Parallel()

	req := request(t)
	req.Annotated = image.NewRGBA(image.Rect(0, 0, 320, 240))
	req.Annotated.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})

	w := NewWriter(WriterConfig{Dir: t.TempDir(), Transcoder: &fakeTranscoder{}, Logger: zap.NewNop()})
	res, err := w.Write(context.Background(), req)
	require.NoError(t, err)

	f, err := os.Open(res.ThumbnailPath)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
}

func TestScale(t *testing.T) {
	t.Parallel()

	small := image.NewRGBA(image.Rect(0, 0, 100, 50))
	assert.Same(t, small, Scale(small, 640))

	big := Scale(image.NewRGBA(image.Rect(0, 0, 1920, 1080)), 640)
	assert.Equal(t, image.Rect(0, 0, 640, 360), big.Bounds())
}

func TestFFmpegTranscoderNoFrames(t *testing.T) {
	t.Parallel()

	err := NewFFmpegTranscoder(8, time.Second).Transcode(context.Background(), nil, "/tmp/never.mp4")
	assert.ErrorIs(t, err, ErrTranscode)
}
