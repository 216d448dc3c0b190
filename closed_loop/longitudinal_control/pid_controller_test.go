package control

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

const eps = 1e-9

func newPID(t *testing.T, cfg PIDConfig) *PIDController {
	t.Helper()
	pid, err := NewPIDController(cfg)
	if err != nil {
		t.Fatalf("NewPIDController: %v", err)
	}
	return pid
}

func TestPIDController_TrapezoidalIntegral(t *testing.T) {
	pid := newPID(t, PIDConfig{I: 1, MinValue: -100, MaxValue: 100})

	if out := pid.Update(1, 2); math.Abs(out-1) > eps {
		t.Errorf("first Update: want 1, got %v", out)
	}
	if out := pid.Update(1, 4); math.Abs(out-4) > eps {
		t.Errorf("second Update: want 4, got %v", out)
	}
}

func TestPIDController_ZeroElapsedSkipsDerivative(t *testing.T) {
	pid := newPID(t, PIDConfig{P: 1, D: 5, MinValue: -100, MaxValue: 100})

	out := pid.Update(0, 2)
	if math.Abs(out-2) > eps {
		t.Errorf("want proportional term only (2), got %v", out)
	}
	if d := pid.Diagnostics().D; d != 0 {
		t.Errorf("derivative term should be 0 for zero elapsed time, got %v", d)
	}
}

func TestPIDController_ConditionalAntiWindup(t *testing.T) {
	pid := newPID(t, PIDConfig{I: 1, MinValue: -100, MaxValue: 1})

	if out := pid.Update(1, 4); out != 1 {
		t.Fatalf("want output clamped to 1, got %v", out)
	}
	if total := pid.TotalError(); math.Abs(total-2) > eps {
		t.Fatalf("want total error 2 after first step, got %v", total)
	}

	// Saturated high and still pushing up: no accumulation.
	pid.Update(1, 4)
	if total := pid.TotalError(); math.Abs(total-2) > eps {
		t.Errorf("total error grew while saturated: %v", total)
	}
}

func TestPIDController_IntegralLimitsGateAccumulation(t *testing.T) {
	pid := newPID(t, PIDConfig{I: 1, MinValue: -100, MaxValue: 100, MinIntegralValue: -100, MaxIntegralValue: 0.5})

	pid.Update(1, 2) // total 1, output 1 >= integral limit
	pid.Update(1, 2)
	if total := pid.TotalError(); math.Abs(total-1) > eps {
		t.Errorf("want total error held at 1, got %v", total)
	}
}

func TestPIDController_ZeroIntegralLimitsUseOutputLimits(t *testing.T) {
	open := newPID(t, PIDConfig{I: 1, MinValue: -100, MaxValue: 100})
	narrow := newPID(t, PIDConfig{I: 1, MinValue: -100, MaxValue: 100, MinIntegralValue: -1e-9, MaxIntegralValue: 1e-9})

	for k := 0; k < 2; k++ {
		open.Update(1, 2)
		narrow.Update(1, 2)
	}
	if total := open.TotalError(); math.Abs(total-3) > eps {
		t.Errorf("[0, 0] should fall back to the output limits: want 3, got %v", total)
	}
	if total := narrow.TotalError(); math.Abs(total-1) > eps {
		t.Errorf("narrow gate: want total error held at 1, got %v", total)
	}
}

func TestPIDController_BackCalculation(t *testing.T) {
	pid := newPID(t, PIDConfig{P: 1, I: 1, MinValue: -1, MaxValue: 1, AntiWindup: AntiWindupBackCalculation})

	out := pid.Update(1, 2)
	if out != 1 {
		t.Fatalf("want 1, got %v", out)
	}
	if total := pid.TotalError(); math.Abs(total+1) > eps {
		t.Errorf("want back-solved total error -1, got %v", total)
	}
	d := pid.Diagnostics()
	if math.Abs(d.P+d.I+d.D-1) > eps {
		t.Errorf("terms should sum to the limit, got P=%v I=%v D=%v", d.P, d.I, d.D)
	}
}

func TestPIDController_OutputAlwaysBounded(t *testing.T) {
	for _, aw := range []AntiWindup{AntiWindupConditional, AntiWindupBackCalculation} {
		pid := newPID(t, PIDConfig{P: 3, I: 2, D: 0.5, MinValue: -10, MaxValue: 25, AntiWindup: aw})
		rng := rand.New(rand.NewSource(7))
		for k := 0; k < 2000; k++ {
			dt := rng.Float64() * 0.2
			e := (rng.Float64() - 0.5) * 200
			out := pid.Update(dt, e)
			if out < -10 || out > 25 {
				t.Fatalf("%s: step %d output %v out of bounds", aw, k, out)
			}
		}
	}
}

func TestPIDController_ActivationReset(t *testing.T) {
	cfg := PIDConfig{P: 1, I: 0.5, D: 0.1, MinValue: -50, MaxValue: 50, DefaultValue: 3}

	a := newPID(t, cfg)
	b := newPID(t, cfg)
	if a.Update(0.1, 4) != b.Update(0.1, 4) {
		t.Fatal("fresh controllers disagree")
	}

	a.Update(0.1, 10)
	a.Update(0.1, -7)
	a.SetActive(false)
	if a.Value() == cfg.DefaultValue {
		t.Fatal("deactivation alone should not reset the output")
	}
	a.SetActive(true)
	if a.Value() != cfg.DefaultValue || a.TotalError() != 0 || a.Diagnostics().Error != 0 {
		t.Errorf("re-activation did not reset state: %+v", a.Diagnostics())
	}

	c := newPID(t, cfg)
	if got, want := a.Update(0.1, 4), c.Update(0.1, 4); got != want {
		t.Errorf("after re-activation want %v, got %v", want, got)
	}
}

func TestNewPIDController_InvalidBounds(t *testing.T) {
	cases := []PIDConfig{
		{MinValue: 1, MaxValue: 0},
		{MinValue: -1, MaxValue: 1, MinIntegralValue: 2, MaxIntegralValue: 1},
	}
	for _, cfg := range cases {
		if _, err := NewPIDController(cfg); !errors.Is(err, ErrInvalidBounds) {
			t.Errorf("%+v: want ErrInvalidBounds, got %v", cfg, err)
		}
	}
}

func TestPIDController_NonFiniteSampleHoldsState(t *testing.T) {
	cfg := PIDConfig{P: 1, I: 1, MinValue: -1, MaxValue: 1}
	pid := newPID(t, cfg)
	twin := newPID(t, cfg)

	want := pid.Update(0.1, 0.5)
	twin.Update(0.1, 0.5)

	samples := []struct{ dt, err float64 }{
		{0.1, math.NaN()},
		{0.1, math.Inf(1)},
		{math.Inf(1), 0.5},
		{math.NaN(), 0.5},
	}
	for _, s := range samples {
		if out := pid.Update(s.dt, s.err); out != want {
			t.Errorf("Update(%v, %v): want held output %v, got %v", s.dt, s.err, want, out)
		}
	}
	if pid.TotalError() != twin.TotalError() {
		t.Errorf("non-finite samples changed accumulated error: %v vs %v", pid.TotalError(), twin.TotalError())
	}
	if got, exp := pid.Update(0.1, 0.5), twin.Update(0.1, 0.5); got != exp {
		t.Errorf("after non-finite samples want %v, got %v", exp, got)
	}
}

func TestPIDController_HeldDefaultIsClamped(t *testing.T) {
	pid := newPID(t, PIDConfig{P: 1, MinValue: -1, MaxValue: 1, DefaultValue: 5})
	if out := pid.Update(0.1, math.NaN()); out != 1 {
		t.Errorf("want default clamped to 1, got %v", out)
	}
}
