package config

import (
	"encoding/json"
	"fmt"

	"hotelcctv/internal/engine"
	"hotelcctv/internal/zone"
)

// CameraSettings holds optional detection overrides. Nil fields inherit the
// next layer: per-camera settings over config defaults over engine defaults.
type CameraSettings struct {
	DetectCash     *bool `yaml:"detect_cash" json:"detect_cash,omitempty"`
	DetectViolence *bool `yaml:"detect_violence" json:"detect_violence,omitempty"`
	DetectFire     *bool `yaml:"detect_fire" json:"detect_fire,omitempty"`

	CashConfidence     *float64 `yaml:"cash_confidence" json:"cash_confidence,omitempty"`
	ViolenceConfidence *float64 `yaml:"violence_confidence" json:"violence_confidence,omitempty"`
	FireConfidence     *float64 `yaml:"fire_confidence" json:"fire_confidence,omitempty"`
	PoseConfidence     *float64 `yaml:"pose_confidence" json:"pose_confidence,omitempty"`

	HandTouchDistance *float64 `yaml:"hand_touch_distance" json:"hand_touch_distance,omitempty"`
	MotionThreshold   *float64 `yaml:"motion_threshold" json:"motion_threshold,omitempty"`

	CashierZone *zone.Zone `yaml:"cashier_zone" json:"cashier_zone,omitempty"`
	DrawerZone  *zone.Zone `yaml:"drawer_zone" json:"drawer_zone,omitempty"`

	FireColorFallback *bool `yaml:"fire_color_fallback" json:"fire_color_fallback,omitempty"`
	Annotate          *bool `yaml:"annotate" json:"annotate,omitempty"`

	// Run detection on every Nth captured frame
	DetectEvery *int `yaml:"detect_every" json:"detect_every,omitempty"`
}

// ParseCameraSettings decodes a stored per-camera settings document. Empty
// input yields no overrides.
func ParseCameraSettings(data []byte) (CameraSettings, error) {
	var s CameraSettings
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return CameraSettings{}, fmt.Errorf("failed to parse camera settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return CameraSettings{}, err
	}
	return s, nil
}

// Validate checks the ranges of the set fields
func (s CameraSettings) Validate() error {
	for name, v := range map[string]*float64{
		"cash_confidence":     s.CashConfidence,
		"violence_confidence": s.ViolenceConfidence,
		"fire_confidence":     s.FireConfidence,
		"pose_confidence":     s.PoseConfidence,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, *v)
		}
	}
	if s.HandTouchDistance != nil && *s.HandTouchDistance <= 0 {
		return fmt.Errorf("hand_touch_distance must be positive, got %v", *s.HandTouchDistance)
	}
	if s.MotionThreshold != nil && *s.MotionThreshold <= 0 {
		return fmt.Errorf("motion_threshold must be positive, got %v", *s.MotionThreshold)
	}
	if s.DetectEvery != nil && *s.DetectEvery < 1 {
		return fmt.Errorf("detect_every must be at least 1, got %d", *s.DetectEvery)
	}
	return nil
}

// Apply writes the set fields onto engine settings
func (s CameraSettings) Apply(dst *engine.Settings) {
	if s.DetectCash != nil {
		dst.CashEnabled = *s.DetectCash
	}
	if s.DetectViolence != nil {
		dst.ViolenceEnabled = *s.DetectViolence
	}
	if s.DetectFire != nil {
		dst.FireEnabled = *s.DetectFire
	}
	if s.CashConfidence != nil {
		dst.Transaction.CashConfidence = *s.CashConfidence
	}
	if s.ViolenceConfidence != nil {
		dst.Altercation.Confidence = *s.ViolenceConfidence
	}
	if s.FireConfidence != nil {
		dst.Fire.Confidence = *s.FireConfidence
	}
	if s.PoseConfidence != nil {
		dst.HandConfidence = *s.PoseConfidence
	}
	if s.HandTouchDistance != nil {
		dst.Transaction.TouchThreshold = *s.HandTouchDistance
	}
	if s.MotionThreshold != nil {
		dst.Altercation.MotionThreshold = *s.MotionThreshold
	}
	if s.CashierZone != nil {
		dst.Zones.CashierZone = *s.CashierZone
	}
	if s.DrawerZone != nil {
		dst.Transaction.DrawerZone = *s.DrawerZone
	}
	if s.FireColorFallback != nil {
		dst.Fire.ColorFallback = *s.FireColorFallback
	}
	if s.Annotate != nil {
		dst.Annotate = *s.Annotate
	}
	if s.DetectEvery != nil {
		dst.DetectEvery = *s.DetectEvery
	}
}

// MergeWithGlobal layers the global defaults and then the camera overrides
// on top of the engine defaults.
func MergeWithGlobal(global, camera CameraSettings) engine.Settings {
	s := engine.DefaultSettings()
	global.Apply(&s)
	camera.Apply(&s)
	return s
}

// CameraEngineSettings resolves the engine settings for a camera from its
// stored settings document.
func (c *Config) CameraEngineSettings(stored []byte) (engine.Settings, error) {
	cam, err := ParseCameraSettings(stored)
	if err != nil {
		return engine.Settings{}, err
	}
	return MergeWithGlobal(c.Defaults, cam), nil
}
