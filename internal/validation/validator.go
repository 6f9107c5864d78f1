// Package validation asks a vision model to confirm detections before they
// are stored. Every failure path accepts the event.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"hotelcctv/internal/database"
	"hotelcctv/internal/metrics"
	"hotelcctv/internal/pipeline"
)

// DefaultModel is the Gemini model used for validation
const DefaultModel = "gemini-2.5-flash-lite"

// Generator sends a prompt and a JPEG to a model and returns its text
type Generator interface {
	Generate(ctx context.Context, prompt string, image []byte) (string, error)
}

// PromptSource supplies per-camera prompt overrides
type PromptSource interface {
	ValidationPrompt(ctx context.Context, cameraID string, eventType pipeline.EventType) (string, error)
}

// LogStore persists validation calls
type LogStore interface {
	InsertValidationLog(ctx context.Context, l *database.ValidationLog) error
}

// Config holds validator configuration
type Config struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validator implements pipeline.Validator
type Validator struct {
	gen     Generator
	prompts PromptSource
	logs    LogStore
	metrics *metrics.Metrics
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Validator
type Option func(*Validator)

// WithPromptSource sets the per-camera prompt lookup
func WithPromptSource(p PromptSource) Option { return func(v *Validator) { v.prompts = p } }

// WithLogStore sets where validation calls are recorded
func WithLogStore(s LogStore) Option { return func(v *Validator) { v.logs = s } }

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option { return func(v *Validator) { v.metrics = m } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option { return func(v *Validator) { v.logger = l } }

// WithTimeout bounds each model call
func WithTimeout(d time.Duration) Option { return func(v *Validator) { v.timeout = d } }

// New creates a Gemini-backed validator. A disabled config or a missing API
// key yields a validator that accepts everything.
func New(ctx context.Context, cfg Config, opts ...Option) (*Validator, error) {
	if cfg.Timeout > 0 {
		opts = append([]Option{WithTimeout(cfg.Timeout)}, opts...)
	}
	if !cfg.Enabled || cfg.APIKey == "" {
		return NewWithGenerator(nil, opts...), nil
	}
	gen, err := NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, err
	}
	return NewWithGenerator(gen, opts...), nil
}

// NewWithGenerator creates a validator around any Generator. A nil generator
// bypasses validation.
func NewWithGenerator(gen Generator, opts ...Option) *Validator {
	v := &Validator{gen: gen, timeout: 10 * time.Second, logger: zap.L()}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.Named("validator")
	return v
}

// Enabled reports whether a model is configured
func (v *Validator) Enabled() bool { return v.gen != nil }

// Validate asks the model whether the event is real
func (v *Validator) Validate(ctx context.Context, frame *pipeline.FrameData, eventType pipeline.EventType) pipeline.Verdict {
	if v.gen == nil {
		v.metrics.Validation(eventType, "bypassed")
		return pipeline.Verdict{Accepted: true, Confidence: 1, Reason: "Validation bypassed (no API key)"}
	}
	prompt := v.prompt(ctx, frame, eventType)
	if prompt == "" {
		v.metrics.Validation(eventType, "bypassed")
		return pipeline.Verdict{Accepted: true, Confidence: 1, Reason: fmt.Sprintf("Unknown event type: %s", eventType)}
	}

	start := time.Now()
	raw, verdict, err := v.call(ctx, frame, prompt)
	elapsed := time.Since(start)

	outcome := "rejected"
	switch {
	case err != nil:
		outcome = "error"
		verdict = pipeline.Verdict{Accepted: true, Confidence: 1, Reason: "Validation error: " + err.Error()}
		v.logger.Warn("Validation failed, accepting event",
			zap.String("camera_id", frame.CameraID), zap.String("event_type", string(eventType)), zap.Error(err))
	case verdict.Accepted:
		outcome = "accepted"
	}
	v.metrics.Validation(eventType, outcome)
	v.logger.Info("Validation result",
		zap.String("camera_id", frame.CameraID),
		zap.String("event_type", string(eventType)),
		zap.Bool("accepted", verdict.Accepted),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("reason", verdict.Reason),
		zap.Duration("elapsed", elapsed))

	v.record(ctx, frame.CameraID, eventType, prompt, raw, verdict, elapsed, err)
	return verdict
}

func (v *Validator) prompt(ctx context.Context, frame *pipeline.FrameData, eventType pipeline.EventType) string {
	if v.prompts != nil && frame.CameraID != "" {
		p, err := v.prompts.ValidationPrompt(ctx, frame.CameraID, eventType)
		if err != nil {
			v.logger.Warn("Failed to load prompt override", zap.String("camera_id", frame.CameraID), zap.Error(err))
		} else if p != "" {
			return p
		}
	}
	return DefaultPrompts[eventType]
}

func (v *Validator) call(ctx context.Context, frame *pipeline.FrameData, prompt string) (string, pipeline.Verdict, error) {
	img, err := encodeFrame(frame)
	if err != nil {
		return "", pipeline.Verdict{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	raw, err := v.gen.Generate(ctx, prompt, img)
	if err != nil {
		return raw, pipeline.Verdict{}, err
	}
	verdict, err := ParseVerdict(raw)
	return raw, verdict, err
}

func (v *Validator) record(ctx context.Context, cameraID string, eventType pipeline.EventType, prompt, raw string,
	verdict pipeline.Verdict, elapsed time.Duration, callErr error) {
	if v.logs == nil {
		return
	}
	entry := &database.ValidationLog{
		ID:           uuid.NewString(),
		CameraID:     cameraID,
		EventType:    eventType,
		Accepted:     verdict.Accepted,
		Confidence:   verdict.Confidence,
		Reason:       verdict.Reason,
		Prompt:       prompt,
		RawResponse:  raw,
		ProcessingMs: elapsed.Milliseconds(),
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	// The caller's context may already be done after a timeout
	if err := v.logs.InsertValidationLog(context.WithoutCancel(ctx), entry); err != nil {
		v.logger.Warn("Failed to store validation log", zap.Error(err))
	}
}

// ParseVerdict reads the model's JSON answer, tolerating markdown fences
func ParseVerdict(text string) (pipeline.Verdict, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return pipeline.Verdict{}, errors.New("empty response from model")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return pipeline.Verdict{}, fmt.Errorf("invalid JSON response: %w", err)
	}

	var verdict pipeline.Verdict
	for _, key := range answerKeys {
		if b, ok := fields[key].(bool); ok {
			verdict.Accepted = b
			break
		}
	}
	if c, ok := fields["confidence"].(float64); ok {
		verdict.Confidence = min(max(c, 0), 1)
	}
	verdict.Reason, _ = fields["reason"].(string)
	if verdict.Reason == "" {
		verdict.Reason = "No reason provided"
	}
	return verdict, nil
}

func encodeFrame(frame *pipeline.FrameData) ([]byte, error) {
	if frame == nil {
		return nil, errors.New("invalid frame")
	}
	if len(frame.Data) > 0 {
		return frame.Data, nil
	}
	if frame.Image == nil {
		return nil, errors.New("invalid frame")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GeminiGenerator calls the Gemini API through the genai SDK
type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiGenerator creates a Gemini API client
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0.1),
			TopK:             genai.Ptr[float32](1),
			TopP:             genai.Ptr[float32](1),
			MaxOutputTokens:  500,
			ResponseMIMEType: "application/json",
		},
	}, nil
}

// Generate implements Generator
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, image []byte) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(image, "image/jpeg"),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.config)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
