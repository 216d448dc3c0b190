package main

import (
	"errors"
	"strings"
	"testing"

	"traction-control-core/closed_loop/integrator"
	control "traction-control-core/closed_loop/longitudinal_control"
)

const trainJSON = `"train": {
	"mass_kg": 100000, "max_tractive_force_n": 200000, "max_brake_force_n": 100000,
	"max_speed_mps": 50, "integration_method": "EulerBackward"
}`

func TestParseScenario_Defaults(t *testing.T) {
	scen, err := ParseScenario([]byte(`{"timing": {"duration_s": 5}, ` + trainJSON + `}`))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	if scen.Meta.ControlMode != ModeOpenLoop {
		t.Errorf("want open_loop, got %q", scen.Meta.ControlMode)
	}
	if scen.Timing.DtS != defaultDtS {
		t.Errorf("want default dt %v, got %v", defaultDtS, scen.Timing.DtS)
	}
	if scen.ModeCode() != 0 {
		t.Errorf("want mode code 0, got %v", scen.ModeCode())
	}
}

func TestParseScenario_ControllerConfigs(t *testing.T) {
	scen, err := ParseScenario([]byte(`{
		"meta": {"control_mode": "speed_pid"},
		"timing": {"duration_s": 5, "dt_s": 0.1},
		` + trainJSON + `,
		"speed_pid": {"p": 0.5, "i": 0.05, "anti_windup": "back_calculation"},
		"acceleration": {"p": 1, "max_acceleration_mpss": 1.5}
	}`))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	if scen.SpeedPID.AntiWindup != control.AntiWindupBackCalculation {
		t.Errorf("anti-windup not decoded: %s", scen.SpeedPID.AntiWindup)
	}
	if scen.Acceleration.MaxAccelerationMpSS != 1.5 {
		t.Errorf("max acceleration not decoded: %v", scen.Acceleration.MaxAccelerationMpSS)
	}
	if scen.ModeCode() != 2 {
		t.Errorf("want mode code 2, got %v", scen.ModeCode())
	}
}

func TestParseScenario_Errors(t *testing.T) {
	cases := map[string]string{
		"bad json":          `{`,
		"no duration":       `{` + trainJSON + `}`,
		"unknown mode":      `{"meta": {"control_mode": "mpc"}, "timing": {"duration_s": 5}, ` + trainJSON + `}`,
		"missing pid":       `{"meta": {"control_mode": "speed_pid"}, "timing": {"duration_s": 5}, "acceleration": {"p": 1}, ` + trainJSON + `}`,
		"missing accel":     `{"meta": {"control_mode": "acceleration"}, "timing": {"duration_s": 5}, ` + trainJSON + `}`,
		"no mass":           `{"timing": {"duration_s": 5}, "train": {"max_tractive_force_n": 1, "max_brake_force_n": 1, "max_speed_mps": 1}}`,
		"unknown method":    `{"timing": {"duration_s": 5}, "train": {"integration_method": "Verlet"}}`,
		"empty segment":     `{"timing": {"duration_s": 5}, ` + trainJSON + `, "segments": [{"t0": 2, "t1": 2}]}`,
		"throttle too high": `{"timing": {"duration_s": 5}, ` + trainJSON + `, "segments": [{"t0": 0, "t1": 1, "throttle_pct": 120}]}`,
	}
	for name, in := range cases {
		if _, err := ParseScenario([]byte(in)); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestParseScenario_UnimplementedMethod(t *testing.T) {
	in := strings.Replace(`{"timing": {"duration_s": 5}, `+trainJSON+`}`, "EulerBackward", "NewtonRhapson", 1)
	_, err := ParseScenario([]byte(in))
	if !errors.Is(err, integrator.ErrNotImplemented) {
		t.Errorf("want ErrNotImplemented, got %v", err)
	}
}

func TestSegmentAt(t *testing.T) {
	scen := Scenario{
		Timing: ScenarioTiming{DurationS: 30},
		Segments: []ScenarioSegment{
			{T0: 0, T1: 10, TargetSpeedMPS: 5},
			{T0: 15, T1: -1, TargetSpeedMPS: 8},
		},
	}
	cases := []struct {
		t     float64
		ok    bool
		speed float64
	}{
		{0, true, 5},
		{9.99, true, 5},
		{10, false, 0},
		{12, false, 0},
		{15, true, 8},
		{29.9, true, 8},
		{30, false, 0},
	}
	for _, c := range cases {
		seg, ok := scen.SegmentAt(c.t)
		if ok != c.ok || seg.TargetSpeedMPS != c.speed {
			t.Errorf("t=%v: got (%v, %v), want (%v, %v)", c.t, seg.TargetSpeedMPS, ok, c.speed, c.ok)
		}
	}
}

func TestLoadScenario_RepositoryScenarios(t *testing.T) {
	for _, path := range []string{"scenarios/station_stop.json", "scenarios/open_loop_coastdown.json"} {
		if _, err := LoadScenario(path); err != nil {
			t.Errorf("%s: %v", path, err)
		}
	}
}
