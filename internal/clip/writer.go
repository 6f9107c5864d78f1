package clip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"hotelcctv/internal/engine"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/storage"
)

// Request describes one event's evidence
type Request struct {
	EventID    string
	CameraID   string
	EventType  pipeline.EventType
	Detection  pipeline.Detection
	Frames     []*pipeline.FrameData
	Annotated  *image.RGBA // Frame the detection fired on, already labelled
	Validation *pipeline.Verdict
	Time       time.Time
}

// Result holds the written artifact paths. ClipPath is empty when the
// transcode failed.
type Result struct {
	ClipPath      string
	ThumbnailPath string
	SidecarPath   string
}

// Sidecar is the JSON document written next to each clip
type Sidecar struct {
	EventID     string             `json:"event_id"`
	Timestamp   time.Time          `json:"timestamp"`
	EventType   pipeline.EventType `json:"event_type"`
	CameraID    string             `json:"camera_id"`
	Confidence  float64            `json:"confidence"`
	FrameNumber uint64             `json:"frame_number"`
	BBox        [4]int             `json:"bbox"`
	Clip        string             `json:"clip,omitempty"`
	Thumbnail   string             `json:"thumbnail,omitempty"`
	FrameCount  int                `json:"frame_count"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Validation  *pipeline.Verdict  `json:"validation,omitempty"`
}

// WriterConfig configures a Writer
type WriterConfig struct {
	Dir            string
	ThumbnailWidth int
	Transcoder     Transcoder
	Store          storage.ObjectStore // Optional upload target
	Logger         *zap.Logger
}

// Writer saves clip, thumbnail and sidecar under Dir/<camera>/<date>/
type Writer struct {
	dir        string
	thumbWidth int
	transcoder Transcoder
	store      storage.ObjectStore
	logger     *zap.Logger
}

// NewWriter creates a writer
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = 640
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	if cfg.Transcoder == nil {
		cfg.Transcoder = NewFFmpegTranscoder(0, 0)
	}
	return &Writer{
		dir:        cfg.Dir,
		thumbWidth: cfg.ThumbnailWidth,
		transcoder: cfg.Transcoder,
		store:      cfg.Store,
		logger:     cfg.Logger.Named("clip"),
	}
}

// Write persists the artifacts. A transcode failure still writes the
// thumbnail and sidecar and returns an error wrapping ErrTranscode.
func (w *Writer) Write(ctx context.Context, req Request) (Result, error) {
	if req.Time.IsZero() {
		req.Time = time.Now()
	}
	dir := filepath.Join(w.dir, req.CameraID, req.Time.Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create clip dir: %w", err)
	}
	short := req.EventID
	if len(short) > 8 {
		short = short[:8]
	}
	base := filepath.Join(dir, fmt.Sprintf("%s_%s_%s", req.EventType, req.Time.Format("150405"), short))

	var res Result
	var transcodeErr error

	frames := make([][]byte, 0, len(req.Frames))
	for _, f := range req.Frames {
		if f != nil && len(f.Data) > 0 {
			frames = append(frames, f.Data)
		}
	}
	clipPath := base + ".mp4"
	if err := w.transcoder.Transcode(ctx, frames, clipPath); err != nil {
		transcodeErr = err
		os.Remove(clipPath)
		w.logger.Warn("Clip transcode failed", zap.String("event_id", req.EventID), zap.Error(err))
	} else {
		res.ClipPath = clipPath
	}

	if thumb := w.thumbnail(req); thumb != nil {
		path := base + ".jpg"
		if err := writeJPEG(path, thumb); err != nil {
			w.logger.Warn("Thumbnail write failed", zap.String("event_id", req.EventID), zap.Error(err))
		} else {
			res.ThumbnailPath = path
		}
	}

	sidecar := Sidecar{
		EventID:     req.EventID,
		Timestamp:   req.Time,
		EventType:   req.EventType,
		CameraID:    req.CameraID,
		Confidence:  req.Detection.Confidence,
		FrameNumber: req.Detection.FrameIndex,
		BBox:        [4]int{req.Detection.BBox.X1, req.Detection.BBox.Y1, req.Detection.BBox.X2, req.Detection.BBox.Y2},
		Clip:        baseName(res.ClipPath),
		Thumbnail:   baseName(res.ThumbnailPath),
		FrameCount:  len(frames),
		Metadata:    req.Detection.Metadata,
		Validation:  req.Validation,
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return res, fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	res.SidecarPath = base + ".json"
	if err := os.WriteFile(res.SidecarPath, data, 0o644); err != nil {
		return res, fmt.Errorf("failed to write sidecar: %w", err)
	}

	w.upload(ctx, req, res)
	return res, transcodeErr
}

func (w *Writer) upload(ctx context.Context, req Request, res Result) {
	if w.store == nil {
		return
	}
	for _, path := range []string{res.ClipPath, res.ThumbnailPath, res.SidecarPath} {
		if path == "" {
			continue
		}
		key := storage.ObjectKey(req.CameraID, req.EventID, path)
		if err := w.store.PutFile(ctx, key, path); err != nil {
			w.logger.Warn("Artifact upload failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// thumbnail picks the annotated frame, or labels the newest buffered frame,
// and scales it down to the configured width.
func (w *Writer) thumbnail(req Request) image.Image {
	var src *image.RGBA
	if req.Annotated != nil {
		src = req.Annotated
	} else {
		for i := len(req.Frames) - 1; i >= 0 && src == nil; i-- {
			f := req.Frames[i]
			if f == nil || len(f.Data) == 0 {
				continue
			}
			img, err := jpeg.Decode(bytes.NewReader(f.Data))
			if err != nil {
				continue
			}
			src = image.NewRGBA(img.Bounds())
			draw.Draw(src, src.Bounds(), img, img.Bounds().Min, draw.Src)
			c := engine.LabelColor(req.Detection.Label)
			engine.DrawBox(src, req.Detection.BBox, c, 3)
			engine.DrawLabel(src, req.Detection.BBox.X1, req.Detection.BBox.Y1-15,
				fmt.Sprintf("%s %.0f%%", req.Detection.Label, req.Detection.Confidence*100), c)
		}
	}
	if src == nil {
		return nil
	}
	return Scale(src, w.thumbWidth)
}

// Scale resizes img to width, keeping aspect. Smaller images are returned as is.
func Scale(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || b.Dx() <= width {
		return img
	}
	height := b.Dy() * width / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 85}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
