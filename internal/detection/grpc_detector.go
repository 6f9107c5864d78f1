package detection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"hotelcctv/internal/pipeline"
)

// InferenceService is the fully qualified gRPC service name of the backend
const InferenceService = "cctv.inference.v1.Inference"

const (
	methodDetectPoses   = "/" + InferenceService + "/DetectPoses"
	methodDetectObjects = "/" + InferenceService + "/DetectObjects"
)

// GRPCDetector runs pose and object inference against a gRPC backend.
// Messages are google.protobuf.Struct so no generated stubs are needed.
type GRPCDetector struct {
	endpoint string
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
	cfg      GRPCDetectorConfig
	logger   *zap.Logger

	healthy    bool
	healthMu   sync.RWMutex
	lastHealth time.Time
}

// GRPCDetectorConfig holds configuration for the gRPC detector
type GRPCDetectorConfig struct {
	Endpoint      string
	ConfThreshold float64
	Classes       []string      // Object classes requested from DetectObjects
	Timeout       time.Duration // Per call
	HealthTTL     time.Duration
	DialOptions   []grpc.DialOption
	Logger        *zap.Logger
}

// NewGRPCDetector creates a client for the inference service. The connection
// is established lazily by grpc on first use.
func NewGRPCDetector(config GRPCDetectorConfig) (*GRPCDetector, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("grpc detector endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.HealthTTL <= 0 {
		config.HealthTTL = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	// Keepalive detects dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}

	gd := &GRPCDetector{
		endpoint: config.Endpoint,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		cfg:      config,
		logger:   config.Logger.Named("grpc_detector").With(zap.String("endpoint", config.Endpoint)),
	}
	gd.logger.Info("Inference client created")
	return gd, nil
}

// Name returns the backend name
func (gd *GRPCDetector) Name() string { return "grpc:" + gd.endpoint }

// IsHealthy checks the standard grpc health service, caching a positive
// answer for HealthTTL.
func (gd *GRPCDetector) IsHealthy() bool {
	gd.healthMu.RLock()
	if time.Since(gd.lastHealth) < gd.cfg.HealthTTL && gd.healthy {
		gd.healthMu.RUnlock()
		return true
	}
	gd.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := gd.health.Check(ctx, &healthpb.HealthCheckRequest{Service: InferenceService})
	gd.healthMu.Lock()
	defer gd.healthMu.Unlock()
	if err != nil {
		gd.logger.Warn("Health check failed", zap.Error(err))
		gd.healthy = false
		return false
	}
	gd.healthy = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	gd.lastHealth = time.Now()
	return gd.healthy
}

// DetectPoses runs the pose model on a frame
func (gd *GRPCDetector) DetectPoses(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Person, error) {
	var resp PoseResponse
	if err := gd.invoke(ctx, methodDetectPoses, frame, nil, &resp); err != nil {
		return nil, err
	}
	return resp.people()
}

// DetectObjects runs the object model on a frame
func (gd *GRPCDetector) DetectObjects(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Object, error) {
	var resp ObjectResponse
	if err := gd.invoke(ctx, methodDetectObjects, frame, gd.cfg.Classes, &resp); err != nil {
		return nil, err
	}
	return resp.objects()
}

func (gd *GRPCDetector) invoke(ctx context.Context, method string, frame *pipeline.FrameData, classes []string, out any) error {
	img, err := frameJPEG(frame)
	if err != nil {
		return err
	}

	fields := map[string]any{
		"image":          base64.StdEncoding.EncodeToString(img),
		"camera_id":      frame.CameraID,
		"frame_seq":      frame.Seq,
		"conf_threshold": gd.cfg.ConfThreshold,
	}
	if len(classes) > 0 {
		list := make([]any, len(classes))
		for i, c := range classes {
			list[i] = c
		}
		fields["classes"] = list
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, gd.cfg.Timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := gd.conn.Invoke(ctx, method, req, resp); err != nil {
		gd.healthMu.Lock()
		gd.healthy = false
		gd.healthMu.Unlock()
		return fmt.Errorf("inference call %s failed: %w", method, err)
	}

	raw, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Close shuts down the gRPC connection
func (gd *GRPCDetector) Close() error {
	if gd.conn != nil {
		return gd.conn.Close()
	}
	return nil
}
