package detection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"hotelcctv/internal/pipeline"
)

var jpegFrame = &pipeline.FrameData{CameraID: "cam-1", Seq: 7, Data: []byte{0xff, 0xd8, 0xff, 0xd9}}

func inferenceServer(t *testing.T, modelLoaded bool) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", ModelLoaded: modelLoaded})
	})
	mux.HandleFunc("/pose", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if len(data) != 4 {
			http.Error(w, "bad image", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"people":[{"bbox":[10.4,20,110,220.6],"confidence":0.91,
			"keypoints":[[1,2,0.5],[3,4]]}],"inference_time_ms":12}`))
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.FormValue("classes_filter") != "fire,smoke" {
			http.Error(w, "unexpected filter", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"detections":[{"class":"fire","confidence":0.8,"bbox":[1,2,3,4]}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHTTPDetectorPoses(t *testing.T) {
	t.Parallel()

	srv, _ := inferenceServer(t, true)
	d := NewHTTPDetector(HTTPDetectorConfig{Endpoint: srv.URL + "/", ConfThreshold: 0.25, Logger: zap.NewNop()})
	defer d.Close()

	people, err := d.DetectPoses(context.Background(), jpegFrame)
	require.NoError(t, err)

	want := []pipeline.Person{{
		BBox:       pipeline.BBox{X1: 10, Y1: 20, X2: 110, Y2: 221},
		Confidence: 0.91,
		Keypoints:  []pipeline.Keypoint{{X: 1, Y: 2, Conf: 0.5}, {X: 3, Y: 4, Conf: 1}},
	}}
	if diff := cmp.Diff(want, people); diff != "" {
		t.Errorf("people mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, d.IsHealthy())
}

func TestHTTPDetectorObjectsSendsClassFilter(t *testing.T) {
	t.Parallel()

	srv, _ := inferenceServer(t, true)
	d := NewHTTPDetector(HTTPDetectorConfig{Endpoint: srv.URL, Classes: []string{"fire", "smoke"}, Logger: zap.NewNop()})

	objects, err := d.DetectObjects(context.Background(), jpegFrame)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "fire", objects[0].Label)
	assert.Equal(t, pipeline.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}, objects[0].BBox)
}

func TestHTTPDetectorUnhealthySkipsInference(t *testing.T) {
	t.Parallel()

	srv, calls := inferenceServer(t, false)
	d := NewHTTPDetector(HTTPDetectorConfig{Endpoint: srv.URL, Logger: zap.NewNop()})

	_, err := d.DetectPoses(context.Background(), jpegFrame)
	require.Error(t, err)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestFrameJPEG(t *testing.T) {
	t.Parallel()

	_, err := frameJPEG(&pipeline.FrameData{})
	assert.Error(t, err)

	data, err := frameJPEG(&pipeline.FrameData{Image: image.NewRGBA(image.Rect(0, 0, 8, 8))})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])
}

func TestBadBBoxIsAnError(t *testing.T) {
	t.Parallel()

	_, err := PoseResponse{People: []PersonResult{{BBox: []float64{1, 2}}}}.people()
	assert.Error(t, err)
}

// fakeInference answers DetectPoses/DetectObjects with fixed Structs.
type fakeInference struct{}

func structHandler(reply map[string]any) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		img, err := base64.StdEncoding.DecodeString(req.Fields["image"].GetStringValue())
		if err != nil || len(img) != 4 {
			return structpb.NewStruct(map[string]any{"people": []any{}})
		}
		return structpb.NewStruct(reply)
	}
}

func startGRPC(t *testing.T) *GRPCDetector {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: InferenceService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "DetectPoses", Handler: structHandler(map[string]any{
				"people": []any{map[string]any{
					"bbox":       []any{0, 0, 50, 100},
					"confidence": 0.7,
					"keypoints":  []any{[]any{5, 6, 0.9}},
				}},
			})},
			{MethodName: "DetectObjects", Handler: structHandler(map[string]any{
				"detections": []any{map[string]any{"class": "smoke", "confidence": 0.6, "bbox": []any{1, 1, 9, 9}}},
			})},
		},
	}, fakeInference{})

	hs := health.NewServer()
	hs.SetServingStatus(InferenceService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	d, err := NewGRPCDetector(GRPCDetectorConfig{
		Endpoint: "passthrough:///bufnet",
		Logger:   zap.NewNop(),
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestGRPCDetector(t *testing.T) {
	t.Parallel()

	d := startGRPC(t)
	assert.True(t, d.IsHealthy())

	people, err := d.DetectPoses(context.Background(), jpegFrame)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, pipeline.BBox{X1: 0, Y1: 0, X2: 50, Y2: 100}, people[0].BBox)
	assert.Equal(t, []pipeline.Keypoint{{X: 5, Y: 6, Conf: 0.9}}, people[0].Keypoints)

	objects, err := d.DetectObjects(context.Background(), jpegFrame)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "smoke", objects[0].Label)
	assert.InDelta(t, 0.6, objects[0].Confidence, 1e-9)
}

func TestGRPCDetectorRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewGRPCDetector(GRPCDetectorConfig{})
	assert.Error(t, err)
}
