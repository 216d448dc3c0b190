package control

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
)

func newAccel(t *testing.T, cfg AccelerationConfig) *AccelerationController {
	t.Helper()
	ac, err := NewAccelerationController(cfg)
	if err != nil {
		t.Fatalf("NewAccelerationController: %v", err)
	}
	return ac
}

func TestTuning_Scaled(t *testing.T) {
	base := NewTuning(0.5, 0.25, 0.125)
	if c := base.Coefficients(); c != [3]float64{50, 25, 12.5} {
		t.Fatalf("coefficients: got %v", c)
	}

	s, err := base.Scaled(0.5)
	if err != nil {
		t.Fatalf("Scaled: %v", err)
	}
	if s.ProportionalFactor() != 100 || s.IntegralFactor() != 50 || s.DerivativeFactor() != 25 {
		t.Errorf("unexpected factors %v %v %v", s.ProportionalFactor(), s.IntegralFactor(), s.DerivativeFactor())
	}
	if base.ProportionalFactor() != 50 {
		t.Errorf("scaling mutated the base tuning")
	}

	again, _ := s.Scaled(2)
	if again.ProportionalFactor() != 25 {
		t.Errorf("scaling should start from base coefficients, got %v", again.ProportionalFactor())
	}

	if _, err := base.Scaled(0); !errors.Is(err, ErrInvalidAcceleration) {
		t.Errorf("want ErrInvalidAcceleration, got %v", err)
	}
}

func TestAccelerationController_ProportionalUsesTarget(t *testing.T) {
	ac := newAccel(t, AccelerationConfig{P: 1, MaxAccelerationMpSS: 1})

	out := ac.Update(0.1, 0.5, 0.2)
	if math.Abs(out-50) > eps {
		t.Errorf("want 50%% from target feed-forward, got %v", out)
	}
}

func TestAccelerationController_BackSolvesAtUpperLimit(t *testing.T) {
	ac := newAccel(t, AccelerationConfig{P: 1, I: 1, MaxAccelerationMpSS: 1})

	out := ac.Update(1, 2, 0)
	if out != 100 {
		t.Fatalf("want 100, got %v", out)
	}
	if total := ac.TotalError(); math.Abs(total+1) > eps {
		t.Errorf("want back-solved total error -1, got %v", total)
	}
	d := ac.Diagnostics()
	if math.Abs(d.PPercent+d.IPercent-100) > eps {
		t.Errorf("P+I should land on the limit, got %v + %v", d.PPercent, d.IPercent)
	}
}

func TestAccelerationController_ZeroIntegralGainKeepsSign(t *testing.T) {
	ac := newAccel(t, AccelerationConfig{P: 1, MaxAccelerationMpSS: 1})

	if out := ac.Update(1, 2, 0); out != 100 {
		t.Fatalf("want 100, got %v", out)
	}
	if total := ac.TotalError(); total != 0 {
		t.Errorf("positive total error kept at upper limit: %v", total)
	}

	ac.Reset()
	if out := ac.Update(1, -1, 0); out != 0 {
		t.Fatalf("want 0, got %v", out)
	}
	if total := ac.TotalError(); total != 0 {
		t.Errorf("negative total error kept at lower limit: %v", total)
	}
}

func TestAccelerationController_UpdateBounded(t *testing.T) {
	ac := newAccel(t, AccelerationConfig{P: 1, MaxAccelerationMpSS: 1})

	out, err := ac.UpdateBounded(0.1, 0.9, 0.9, 0, 40)
	if err != nil {
		t.Fatalf("UpdateBounded: %v", err)
	}
	if out != 40 {
		t.Errorf("want 40, got %v", out)
	}

	if _, err := ac.UpdateBounded(0.1, 0.9, 0.9, 50, 40); !errors.Is(err, ErrInvalidBounds) {
		t.Errorf("want ErrInvalidBounds, got %v", err)
	}
}

func TestAccelerationController_ZeroElapsedSkipsDerivative(t *testing.T) {
	ac := newAccel(t, AccelerationConfig{D: 1, MaxAccelerationMpSS: 1})

	ac.Update(0, 0.5, 0)
	if d := ac.Diagnostics().DPercent; d != 0 {
		t.Errorf("want zero derivative term, got %v", d)
	}
}

func TestAccelerationController_OutputAlwaysBounded(t *testing.T) {
	for _, aw := range []AntiWindup{AntiWindupConditional, AntiWindupBackCalculation} {
		ac := newAccel(t, AccelerationConfig{P: 0.8, I: 0.3, D: 0.05, MaxAccelerationMpSS: 0.6, AntiWindup: aw})
		rng := rand.New(rand.NewSource(11))
		for k := 0; k < 2000; k++ {
			dt := rng.Float64() * 0.1
			out := ac.Update(dt, rng.Float64()*2-0.5, rng.Float64()*2-1)
			if out < 0 || out > 100 {
				t.Fatalf("%s: step %d output %v out of bounds", aw, k, out)
			}
		}
	}
}

func TestAccelerationController_ActivationReset(t *testing.T) {
	cfg := AccelerationConfig{P: 0.5, I: 0.2, D: 0.01, MaxAccelerationMpSS: 0.8}
	a := newAccel(t, cfg)
	b := newAccel(t, cfg)

	if a.Update(0.05, 0.4, 0.1) != b.Update(0.05, 0.4, 0.1) {
		t.Fatal("fresh controllers disagree")
	}

	a.Update(0.05, 0.6, 0.0)
	a.SetActive(false)
	a.SetActive(true)
	if a.Percent() != 0 || a.TotalError() != 0 {
		t.Errorf("re-activation did not reset: %+v", a.Diagnostics())
	}
}

func TestAccelerationController_CloneSharesTuningOnly(t *testing.T) {
	base := newAccel(t, AccelerationConfig{P: 0.5, I: 0.2, MaxAccelerationMpSS: 0.8})
	base.Update(0.1, 0.5, 0.1)

	clone := base.Clone()
	if clone.Tuning() != base.Tuning() {
		t.Error("clone should share the tuning")
	}
	if clone.Active() || clone.TotalError() != 0 || clone.Percent() != 0 {
		t.Errorf("clone should start with fresh state: %+v", clone.Diagnostics())
	}

	if err := clone.Adjust(1.6); err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if base.Tuning().ProportionalFactor() != 50/0.8 {
		t.Errorf("adjusting the clone changed the original's tuning")
	}
}

func TestAntiWindup_JSON(t *testing.T) {
	var cfg AccelerationConfig
	if err := json.Unmarshal([]byte(`{"p":1,"anti_windup":"conditional"}`), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.AntiWindup != AntiWindupConditional {
		t.Errorf("want conditional, got %s", cfg.AntiWindup)
	}
	if err := json.Unmarshal([]byte(`{"anti_windup":"sometimes"}`), &cfg); err == nil {
		t.Error("want error for unknown strategy")
	}
}

func TestSolveIntegralForBoundary(t *testing.T) {
	if v, ok := SolveIntegralForBoundary(100, 40, 20); !ok || v != 3 {
		t.Errorf("want (3, true), got (%v, %v)", v, ok)
	}
	if _, ok := SolveIntegralForBoundary(100, 40, 0); ok {
		t.Error("zero gain must not solve")
	}
}

func TestAccelerationController_NonFiniteInputsHoldState(t *testing.T) {
	cfg := AccelerationConfig{P: 1, I: 1, MaxAccelerationMpSS: 1}
	ac := newAccel(t, cfg)
	twin := newAccel(t, cfg)

	want := ac.Update(0.1, 0.5, 0.4)
	twin.Update(0.1, 0.5, 0.4)

	inputs := [][3]float64{
		{0.1, 0.5, math.NaN()},
		{0.1, math.NaN(), 0},
		{0.1, math.Inf(1), 0},
		{math.Inf(-1), 0.5, 0.4},
	}
	for _, in := range inputs {
		if out := ac.Update(in[0], in[1], in[2]); out != want {
			t.Errorf("Update(%v): want held output %v, got %v", in, want, out)
		}
	}
	if ac.TotalError() != twin.TotalError() {
		t.Errorf("non-finite inputs changed accumulated error: %v vs %v", ac.TotalError(), twin.TotalError())
	}
	if got, exp := ac.Update(0.1, 0.5, 0.45), twin.Update(0.1, 0.5, 0.45); got != exp {
		t.Errorf("after non-finite inputs want %v, got %v", exp, got)
	}
}

func TestAccelerationController_InfiniteTargetWithoutIntegral(t *testing.T) {
	ac := newAccel(t, AccelerationConfig{P: 1, MaxAccelerationMpSS: 1})
	out := ac.Update(0.1, math.Inf(1), 0)
	if math.IsNaN(out) || out < 0 || out > 100 {
		t.Errorf("output %v outside [0, 100]", out)
	}
	if out := ac.Update(0.1, 0.2, 0); math.Abs(out-20) > eps {
		t.Errorf("want 20 after the infinite target, got %v", out)
	}
}
