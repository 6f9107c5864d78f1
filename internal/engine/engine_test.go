package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hotelcctv/internal/material"
	"hotelcctv/internal/pipeline"
	"hotelcctv/internal/zone"
)

type scriptedPoses struct {
	script func(seq uint64) []pipeline.Person
	err    error
	calls  int
}

func (s *scriptedPoses) Name() string    { return "scripted" }
func (s *scriptedPoses) IsHealthy() bool { return true }
func (s *scriptedPoses) Close() error    { return nil }
func (s *scriptedPoses) DetectPoses(_ context.Context, f *pipeline.FrameData) ([]pipeline.Person, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.script(f.Seq), nil
}

type fixedMaterial struct{ v material.Verdict }

func (m fixedMaterial) Classify(image.Image, pipeline.Point, pipeline.Point) material.Verdict {
	return m.v
}

func personWithWrist(box pipeline.BBox, wrist pipeline.Point) pipeline.Person {
	kps := make([]pipeline.Keypoint, 17)
	kps[pipeline.KeypointLeftWrist] = pipeline.Keypoint{X: wrist.X, Y: wrist.Y, Conf: 0.9}
	return pipeline.Person{BBox: box, Keypoints: kps, Confidence: 0.9}
}

var (
	cashierBox  = pipeline.BBox{X1: 50, Y1: 100, X2: 200, Y2: 400}
	customerBox = pipeline.BBox{X1: 400, Y1: 100, X2: 550, Y2: 400}
)

// counterScene scripts a cashier/customer handover at frame 0 and a drawer
// deposit at frame 40.
func counterScene(seq uint64) []pipeline.Person {
	switch {
	case seq == 0:
		return []pipeline.Person{
			personWithWrist(cashierBox, pipeline.Point{X: 300, Y: 150}),
			personWithWrist(customerBox, pipeline.Point{X: 360, Y: 150}),
		}
	case seq == 40:
		return []pipeline.Person{
			personWithWrist(cashierBox, pipeline.Point{X: 100, Y: 250}),
			personWithWrist(customerBox, pipeline.Point{X: 500, Y: 150}),
		}
	default:
		return []pipeline.Person{
			personWithWrist(cashierBox, pipeline.Point{X: 250, Y: 150}),
			personWithWrist(customerBox, pipeline.Point{X: 500, Y: 150}),
		}
	}
}

func counterSettings() Settings {
	s := DefaultSettings()
	s.Zones.CashierZone = zone.Rect(0, 0, 300, 480)
	s.Transaction.TouchThreshold = 80
	return s
}

func cash() fixedMaterial {
	return fixedMaterial{material.Verdict{Kind: material.KindCash, Bill: "50000_won", Confidence: 0.9, Positive: true}}
}

func newFrame(seq uint64) *pipeline.FrameData {
	return &pipeline.FrameData{CameraID: "cam-1", Seq: seq, Image: image.NewRGBA(image.Rect(0, 0, 640, 480))}
}

func TestCounterSceneEmitsOneCash(t *testing.T) {
	t.Parallel()

	poses := &scriptedPoses{script: counterScene}
	e := New("cam-1", poses, counterSettings(), WithMaterialClassifier(cash()), WithLogger(zap.NewNop()))

	var dets []pipeline.Detection
	var at []uint64
	for seq := uint64(0); seq <= 100; seq++ {
		res := e.Process(context.Background(), newFrame(seq))
		for _, d := range res.Detections {
			dets = append(dets, d)
			at = append(at, seq)
		}
		require.NotNil(t, res.Annotated)
	}

	require.Len(t, dets, 1)
	assert.Equal(t, []uint64{40}, at)
	assert.Equal(t, pipeline.LabelCash, dets[0].Label)
	assert.GreaterOrEqual(t, dets[0].Confidence, 0.5)
	assert.LessOrEqual(t, dets[0].Confidence, 1.0)
	assert.Equal(t, 1, dets[0].Metadata["cashier_id"])
	assert.Equal(t, 2, dets[0].Metadata["customer_id"])
	assert.Equal(t, uint64(101), e.Stats().FramesProcessed)
	assert.Equal(t, uint64(1), e.Stats().Detections[pipeline.LabelCash])
}

func TestRolesAssignedFromZone(t *testing.T) {
	t.Parallel()

	e := New("cam-1", &scriptedPoses{script: counterScene}, counterSettings(), WithLogger(zap.NewNop()))
	res := e.Process(context.Background(), newFrame(1))
	require.Len(t, res.Observations, 2)
	assert.Equal(t, pipeline.RoleCashier, res.Observations[0].Role)
	assert.Equal(t, pipeline.RoleCustomer, res.Observations[1].Role)
	assert.NotEqual(t, res.Observations[0].ID, res.Observations[1].ID)
}

func TestInferenceErrorYieldsEmptyResult(t *testing.T) {
	t.Parallel()

	poses := &scriptedPoses{err: errors.New("backend down")}
	s := counterSettings()
	s.FireEnabled = false
	e := New("cam-1", poses, s, WithLogger(zap.NewNop()))

	res := e.Process(context.Background(), newFrame(0))
	assert.Empty(t, res.Detections)
	assert.Empty(t, res.Observations)
	assert.Equal(t, uint64(1), e.Stats().InferenceErrors)
}

func TestPoseSkippedWhenPersonDetectorsDisabled(t *testing.T) {
	t.Parallel()

	poses := &scriptedPoses{script: counterScene}
	s := counterSettings()
	s.CashEnabled = false
	s.ViolenceEnabled = false
	e := New("cam-1", poses, s, WithLogger(zap.NewNop()))

	e.Process(context.Background(), newFrame(0))
	assert.Zero(t, poses.calls)
}

func TestApplySettingsDisablingCashDropsPending(t *testing.T) {
	t.Parallel()

	e := New("cam-1", &scriptedPoses{script: counterScene}, counterSettings(),
		WithMaterialClassifier(cash()), WithLogger(zap.NewNop()))
	e.Process(context.Background(), newFrame(0))

	s := e.Settings()
	s.CashEnabled = false
	e.ApplySettings(s)
	s.CashEnabled = true
	e.ApplySettings(s)

	res := e.Process(context.Background(), newFrame(40))
	assert.Empty(t, res.Detections)
}

func TestProcessDecodesJPEG(t *testing.T) {
	t.Parallel()

	e := New("cam-1", nil, DefaultSettings(), WithLogger(zap.NewNop()))
	res := e.Process(context.Background(), &pipeline.FrameData{Seq: 1, Data: []byte("not a jpeg")})
	assert.Nil(t, res.Annotated)
	assert.Equal(t, uint64(1), e.Stats().InferenceErrors)
}

func TestProcessLeavesCallerFrameUndecoded(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil))
	frame := &pipeline.FrameData{CameraID: "cam-1", Seq: 1, Data: buf.Bytes()}

	poses := &scriptedPoses{script: func(uint64) []pipeline.Person { return nil }}
	e := New("cam-1", poses, DefaultSettings(), WithLogger(zap.NewNop()))
	res := e.Process(context.Background(), frame)

	require.NotNil(t, res.Annotated)
	assert.Equal(t, image.Rect(0, 0, 64, 48), res.Annotated.Bounds())
	assert.Equal(t, 1, poses.calls)
	assert.Nil(t, frame.Image)
	assert.Zero(t, frame.Width)
}
