package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/samber/lo"

	"traction-control-core/closed_loop/integrator"
	control "traction-control-core/closed_loop/longitudinal_control"
)

// Control modes selectable in a scenario.
const (
	ModeOpenLoop     = "open_loop"
	ModeAcceleration = "acceleration"
	ModeSpeedPID     = "speed_pid"
)

// modeCodes is the value sent in TRACTION_CMD_1.mode.
var modeCodes = map[string]float64{
	ModeOpenLoop:     0,
	ModeAcceleration: 1,
	ModeSpeedPID:     2,
}

const defaultDtS = 0.02

// Scenario defines a complete simulation run
type Scenario struct {
	Meta         ScenarioMeta                `json:"meta"`
	Timing       ScenarioTiming              `json:"timing"`
	Train        TrainParams                 `json:"train"`
	Segments     []ScenarioSegment           `json:"segments"`
	SpeedPID     *control.PIDConfig          `json:"speed_pid,omitempty"`    // required in speed_pid mode
	Acceleration *control.AccelerationConfig `json:"acceleration,omitempty"` // required in closed-loop modes
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
	ControlMode string `json:"control_mode,omitempty"` // "open_loop", "acceleration" or "speed_pid"
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DtS          float64 `json:"dt_s"`
	DurationS    float64 `json:"duration_s"`
	LogHz        float64 `json:"log_hz"`
	RealTimeMode bool    `json:"real_time_mode"`
}

// TrainParams describes the simulated consist.
type TrainParams struct {
	MassKg            float64 `json:"mass_kg"`
	MaxTractiveForceN float64 `json:"max_tractive_force_n"`
	MaxBrakeForceN    float64 `json:"max_brake_force_n"`
	MaxSpeedMPS       float64 `json:"max_speed_mps"`
	InitialSpeedMPS   float64 `json:"initial_speed_mps"`

	// Davis resistance R(v) = A + B*v + C*v^2 in newtons
	DavisAN   float64 `json:"davis_a_n"`
	DavisBNs  float64 `json:"davis_b_ns_per_m"`
	DavisCNs2 float64 `json:"davis_c_ns2_per_m2"`

	IntegrationMethod integrator.Method `json:"integration_method"`
	MaxSubsteps       int               `json:"max_substeps"`
}

// ScenarioSegment defines a time window with its commands. Which fields
// apply depends on the control mode.
type ScenarioSegment struct {
	T0              float64 `json:"t0"`
	T1              float64 `json:"t1"` // negative means until the end of the run
	TargetSpeedMPS  float64 `json:"target_speed_mps,omitempty"`
	TargetAccelMPSS float64 `json:"target_accel_mpss,omitempty"`
	ThrottlePct     float64 `json:"throttle_pct,omitempty"`
	BrakePct        float64 `json:"brake_pct,omitempty"`
	GradePct        float64 `json:"grade_pct,omitempty"`
	Comment         string  `json:"comment,omitempty"`
}

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario JSON.
func ParseScenario(data []byte) (Scenario, error) {
	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}

	if scen.Meta.ControlMode == "" {
		scen.Meta.ControlMode = ModeOpenLoop
	}
	if scen.Timing.DtS == 0 {
		scen.Timing.DtS = defaultDtS
	}
	if err := scen.validate(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

func (s *Scenario) validate() error {
	if s.Timing.DurationS <= 0 {
		return fmt.Errorf("invalid duration_s: %f", s.Timing.DurationS)
	}
	if s.Timing.DtS < 0 || s.Timing.DtS > s.Timing.DurationS {
		return fmt.Errorf("invalid dt_s: %f", s.Timing.DtS)
	}
	if s.Timing.LogHz < 0 {
		return fmt.Errorf("invalid log_hz: %f", s.Timing.LogHz)
	}
	if _, ok := modeCodes[s.Meta.ControlMode]; !ok {
		return fmt.Errorf("unknown control_mode %q", s.Meta.ControlMode)
	}

	t := s.Train
	if t.MassKg <= 0 {
		return fmt.Errorf("invalid mass_kg: %f", t.MassKg)
	}
	if t.MaxTractiveForceN <= 0 || t.MaxBrakeForceN <= 0 {
		return fmt.Errorf("tractive and brake force must be positive (%f, %f)", t.MaxTractiveForceN, t.MaxBrakeForceN)
	}
	if t.MaxSpeedMPS <= 0 || t.InitialSpeedMPS < 0 || t.InitialSpeedMPS > t.MaxSpeedMPS {
		return fmt.Errorf("invalid speed limits: initial %f, max %f", t.InitialSpeedMPS, t.MaxSpeedMPS)
	}
	if !t.IntegrationMethod.Implemented() {
		return fmt.Errorf("integration_method %s: %w", t.IntegrationMethod, integrator.ErrNotImplemented)
	}

	if s.Meta.ControlMode != ModeOpenLoop && s.Acceleration == nil {
		return fmt.Errorf("%s mode requires acceleration config", s.Meta.ControlMode)
	}
	if s.Meta.ControlMode == ModeSpeedPID && s.SpeedPID == nil {
		return fmt.Errorf("speed_pid mode requires speed_pid config")
	}

	for i, seg := range s.Segments {
		if seg.T1 >= 0 && seg.T1 <= seg.T0 {
			return fmt.Errorf("segment %d: t1 %.3f not after t0 %.3f", i, seg.T1, seg.T0)
		}
		if seg.ThrottlePct < 0 || seg.ThrottlePct > 100 || seg.BrakePct < 0 || seg.BrakePct > 100 {
			return fmt.Errorf("segment %d: throttle/brake percent outside 0..100", i)
		}
	}
	return nil
}

// ModeCode returns the CAN encoding of the control mode.
func (s *Scenario) ModeCode() float64 {
	return modeCodes[s.Meta.ControlMode]
}

// SegmentAt returns the first segment covering time t.
func (s *Scenario) SegmentAt(t float64) (ScenarioSegment, bool) {
	return lo.Find(s.Segments, func(seg ScenarioSegment) bool {
		t1 := seg.T1
		if t1 < 0 {
			t1 = s.Timing.DurationS
		}
		return t >= seg.T0 && t < t1
	})
}
