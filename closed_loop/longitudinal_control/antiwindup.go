package control

import (
	"fmt"
	"math"
)

// AntiWindup selects how a controller keeps its accumulated error bounded
// while the output is saturated.
type AntiWindup int

const (
	// AntiWindupDefault uses the controller's native strategy:
	// conditional for PIDController, back-calculation for AccelerationController.
	AntiWindupDefault AntiWindup = iota

	// AntiWindupConditional stops accumulating error while the previous
	// output sits on the limit the error is pushing towards.
	AntiWindupConditional

	// AntiWindupBackCalculation always accumulates, then re-solves the
	// accumulated error so the clamped output lands exactly on the limit.
	AntiWindupBackCalculation
)

func (a AntiWindup) String() string {
	switch a {
	case AntiWindupDefault:
		return "default"
	case AntiWindupConditional:
		return "conditional"
	case AntiWindupBackCalculation:
		return "back_calculation"
	default:
		return fmt.Sprintf("AntiWindup(%d)", int(a))
	}
}

func (a AntiWindup) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AntiWindup) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "default":
		*a = AntiWindupDefault
	case "conditional":
		*a = AntiWindupConditional
	case "back_calculation":
		*a = AntiWindupBackCalculation
	default:
		return fmt.Errorf("unknown anti_windup %q", string(text))
	}
	return nil
}

func (a AntiWindup) resolve(native AntiWindup) AntiWindup {
	if a == AntiWindupDefault {
		return native
	}
	return a
}

// SolveIntegralForBoundary returns the accumulated error that makes
// fixed + gain*accumulated equal boundary. It reports false when gain is
// zero and no such value exists.
func SolveIntegralForBoundary(boundary, fixed, gain float64) (float64, bool) {
	if gain == 0 {
		return 0, false
	}
	return (boundary - fixed) / gain, true
}

// integrationAllowed reports whether error may be accumulated given the
// previous output. The previous output stands in for the current saturation
// state.
func integrationAllowed(prev, err, min, max, minIntegral, maxIntegral float64) bool {
	if err > 0 && (prev >= max || prev >= maxIntegral) {
		return false
	}
	if err < 0 && (prev <= min || prev <= minIntegral) {
		return false
	}
	return true
}

// limitErrorSign keeps the accumulated error from pushing further into the
// limit that was hit.
func limitErrorSign(totalError float64, upper bool) float64 {
	if upper {
		return math.Min(totalError, 0)
	}
	return math.Max(totalError, 0)
}
