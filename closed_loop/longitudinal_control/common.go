package control

import (
	"errors"
	"math"

	"golang.org/x/exp/constraints"
)

var (
	// ErrInvalidBounds indicates a lower bound above its upper bound.
	ErrInvalidBounds = errors.New("control: minimum must not exceed maximum")

	// ErrInvalidAcceleration indicates a non-positive acceleration ceiling.
	ErrInvalidAcceleration = errors.New("control: maximum acceleration must be positive")
)

// ControlOutput contains both throttle and brake commands
type ControlOutput struct {
	ThrottlePct float64
	BrakePct    float64
	IsAccel     bool
	IsBrake     bool
}

// Clamp clamps value between min and max
func Clamp[T constraints.Float](value, min, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// BoolToFloat converts bool to float64 (for CAN encoding)
func BoolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// GetControlModeStr returns a string describing the control mode
func GetControlModeStr(output ControlOutput) string {
	if output.IsAccel {
		return "[ACCEL]"
	} else if output.IsBrake {
		return "[BRAKE]"
	}
	return "[COAST]"
}

func checkBounds(min, max float64) error {
	if min > max {
		return ErrInvalidBounds
	}
	return nil
}

// finite reports whether every value is neither NaN nor infinite.
func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
