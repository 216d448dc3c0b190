package control

import (
	"fmt"
	"math"

	"github.com/golang/glog"
)

// PIDController implements a discrete PID controller with a bounded output.
// It is not safe for concurrent use.
type PIDController struct {
	cfg        PIDConfig
	antiWindup AntiWindup

	// State
	active     bool
	value      float64
	lastError  float64
	totalError float64

	// Last computed terms
	p, i, d float64
}

// NewPIDController creates a new PID controller with given configuration
func NewPIDController(cfg PIDConfig) (*PIDController, error) {
	if cfg.MinIntegralValue == 0 && cfg.MaxIntegralValue == 0 {
		cfg.MinIntegralValue = cfg.MinValue
		cfg.MaxIntegralValue = cfg.MaxValue
	}
	if err := checkBounds(cfg.MinValue, cfg.MaxValue); err != nil {
		return nil, fmt.Errorf("output limits [%g, %g]: %w", cfg.MinValue, cfg.MaxValue, err)
	}
	if err := checkBounds(cfg.MinIntegralValue, cfg.MaxIntegralValue); err != nil {
		return nil, fmt.Errorf("integral limits [%g, %g]: %w", cfg.MinIntegralValue, cfg.MaxIntegralValue, err)
	}

	return &PIDController{
		cfg:        cfg,
		antiWindup: cfg.AntiWindup.resolve(AntiWindupConditional),
		value:      cfg.DefaultValue,
	}, nil
}

// Active reports whether the controller has been activated
func (pid *PIDController) Active() bool {
	return pid.active
}

// SetActive switches the controller on or off. Switching it on from off
// resets the state.
func (pid *PIDController) SetActive(active bool) {
	if active && !pid.active {
		pid.Reset()
	}
	pid.active = active
}

// Reset clears the PID state
func (pid *PIDController) Reset() {
	pid.value = pid.cfg.DefaultValue
	pid.lastError = 0
	pid.totalError = 0
	pid.p, pid.i, pid.d = 0, 0, 0
}

// Update computes the control output from the latest error sample.
// The first call after creation or deactivation activates the controller.
// A non-finite sample leaves the state untouched and returns the previous
// output clamped to the limits.
func (pid *PIDController) Update(elapsedSeconds, err float64) float64 {
	if !pid.active {
		pid.SetActive(true)
	}
	c := &pid.cfg
	if !finite(elapsedSeconds, err) {
		return pid.hold()
	}

	var derivative float64
	if elapsedSeconds > 0 {
		derivative = (err - pid.lastError) / elapsedSeconds
	}

	totalError := pid.totalError
	if pid.antiWindup != AntiWindupConditional ||
		integrationAllowed(pid.value, err, c.MinValue, c.MaxValue, c.MinIntegralValue, c.MaxIntegralValue) {
		// Trapezoidal integration
		totalError += (err + pid.lastError) * elapsedSeconds / 2
	}

	p, i, d := c.P*err, c.I*totalError, c.D*derivative
	out := p + i + d
	if math.IsNaN(out) {
		return pid.hold()
	}
	pid.p, pid.i, pid.d = p, i, d
	pid.totalError = totalError

	if out > c.MaxValue || out < c.MinValue {
		limit := Clamp(out, c.MinValue, c.MaxValue)
		if pid.antiWindup == AntiWindupBackCalculation {
			if total, ok := SolveIntegralForBoundary(limit, pid.p+pid.d, c.I); ok {
				pid.totalError = total
				pid.i = c.I * total
			}
		}
		if glog.V(2) {
			glog.Infof("pid: output %.4f clamped to %.4f", out, limit)
		}
		out = limit
	}

	pid.value = out
	pid.lastError = err
	return out
}

func (pid *PIDController) hold() float64 {
	pid.value = Clamp(pid.value, pid.cfg.MinValue, pid.cfg.MaxValue)
	return pid.value
}

// Value returns the most recent output
func (pid *PIDController) Value() float64 {
	return pid.value
}

// TotalError returns the accumulated error
func (pid *PIDController) TotalError() float64 {
	return pid.totalError
}

// Diagnostics returns current PID state for logging/debugging
func (pid *PIDController) Diagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:      pid.lastError,
		TotalError: pid.totalError,
		P:          pid.p,
		I:          pid.i,
		D:          pid.d,
		Value:      pid.value,
	}
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error      float64
	TotalError float64
	P          float64
	I          float64
	D          float64
	Value      float64
}
