// Package integrator advances a scalar state over variable time steps with a
// selectable numerical method and adaptive sub-stepping.
//
// An Integrator is owned by a single simulation loop; it is not safe for
// concurrent use.
package integrator

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotImplemented is returned by Integrate for EulerForward and
	// NewtonRhapson.
	ErrNotImplemented = errors.New("integrator: method not implemented")

	// ErrInvalidBounds indicates a minimum above the maximum.
	ErrInvalidBounds = errors.New("integrator: minimum must not exceed maximum")

	// ErrInvalidSubsteps indicates a negative sub-step limit.
	ErrInvalidSubsteps = errors.New("integrator: max substeps must be positive")
)

const (
	DefaultMaxSubsteps    = 300
	DefaultErrorThreshold = 0.001
	DefaultMin            = -1000.0
	DefaultMax            = 1000.0

	// calls to wait after a large step before reducing the sub-step count
	slowDownHold = 100
	// calls between consecutive reductions
	speedUpHold = 10

	historyLen = 4
)

// DerivativeFunc returns d(value)/dt for the given value.
type DerivativeFunc func(value float64) float64

// Config holds integrator parameters. Zero values select the defaults.
type Config struct {
	Method           Method  `json:"method"`
	InitialCondition float64 `json:"initial_condition"`
	MaxSubsteps      int     `json:"max_substeps"`
	ErrorThreshold   float64 `json:"error_threshold"`

	// Output clamp, applied only when Limited is set
	Limited bool    `json:"limited"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Integrator integrates a scalar value.
type Integrator struct {
	method           Method
	value            float64
	initialCondition float64

	min, max float64
	limited  bool

	maxSubsteps    int
	errorThreshold float64

	substeps       int
	cooldown       int
	prevDerivation float64

	// derivative samples, newest first
	history [historyLen]float64
	primed  bool
}

// New creates an integrator starting at cfg.InitialCondition.
func New(cfg Config) (*Integrator, error) {
	if cfg.MaxSubsteps < 0 {
		return nil, fmt.Errorf("max substeps %d: %w", cfg.MaxSubsteps, ErrInvalidSubsteps)
	}
	if cfg.MaxSubsteps == 0 {
		cfg.MaxSubsteps = DefaultMaxSubsteps
	}
	if cfg.ErrorThreshold == 0 {
		cfg.ErrorThreshold = DefaultErrorThreshold
	}
	if cfg.Min == 0 && cfg.Max == 0 {
		cfg.Min, cfg.Max = DefaultMin, DefaultMax
	}

	in := &Integrator{
		method:           cfg.Method,
		value:            cfg.InitialCondition,
		initialCondition: cfg.InitialCondition,
		limited:          cfg.Limited,
		maxSubsteps:      cfg.MaxSubsteps,
		errorThreshold:   cfg.ErrorThreshold,
		substeps:         1,
	}
	if err := in.SetBounds(cfg.Min, cfg.Max); err != nil {
		return nil, err
	}
	return in, nil
}

// Clone returns an integrator with the same configuration and value, a cold
// history and a single sub-step.
func (in *Integrator) Clone() *Integrator {
	return &Integrator{
		method:           in.method,
		value:            in.value,
		initialCondition: in.initialCondition,
		min:              in.min,
		max:              in.max,
		limited:          in.limited,
		maxSubsteps:      in.maxSubsteps,
		errorThreshold:   in.errorThreshold,
		substeps:         1,
	}
}

func (in *Integrator) Method() Method            { return in.method }
func (in *Integrator) Value() float64            { return in.value }
func (in *Integrator) InitialCondition() float64 { return in.initialCondition }
func (in *Integrator) Min() float64              { return in.min }
func (in *Integrator) Max() float64              { return in.max }
func (in *Integrator) Limited() bool             { return in.limited }

// SetValue overrides the integrated value, e.g. after an external event
// such as a collision.
func (in *Integrator) SetValue(v float64) { in.value = v }

// SetInitialCondition changes the value Reset returns to.
func (in *Integrator) SetInitialCondition(v float64) { in.initialCondition = v }

// SetLimited enables or disables the output clamp.
func (in *Integrator) SetLimited(limited bool) { in.limited = limited }

// SetBounds sets the output clamp. The assignment is rejected when min > max.
func (in *Integrator) SetBounds(min, max float64) error {
	if min > max {
		return fmt.Errorf("bounds [%g, %g]: %w", min, max, ErrInvalidBounds)
	}
	in.min, in.max = min, max
	return nil
}

// Substeps returns the number of sub-steps the last call was divided into.
func (in *Integrator) Substeps() int { return in.substeps }

// IsStepDividing reports whether the last call used more than one sub-step.
func (in *Integrator) IsStepDividing() bool { return in.substeps > 1 }

// Reset restores the value to the initial condition. Sub-step state and
// history are kept.
func (in *Integrator) Reset() {
	in.value = in.initialCondition
}

// Integrate advances the value by timeSpan seconds and returns it. A
// non-positive timeSpan leaves the value unchanged.
func (in *Integrator) Integrate(timeSpan float64, f DerivativeFunc) (float64, error) {
	if !in.method.Implemented() {
		return in.value, fmt.Errorf("integrate with %s: %w", in.method, ErrNotImplemented)
	}
	if timeSpan <= 0 {
		return in.value, nil
	}

	in.adaptSubsteps()

	h := timeSpan / float64(in.substeps)
	var delta float64
	for n := 0; n < in.substeps; n++ {
		delta = in.step(h, f)
	}
	in.prevDerivation = delta

	if in.limited {
		in.value = math.Min(math.Max(in.value, in.min), in.max)
	}
	return in.value, nil
}

// adaptSubsteps grows the sub-step count while the last per-sub-step change
// exceeds the error threshold, and shrinks it again only after a hold-off.
func (in *Integrator) adaptSubsteps() {
	if math.Abs(in.prevDerivation) > in.errorThreshold {
		in.substeps = min(in.substeps+1, in.maxSubsteps)
		in.cooldown = slowDownHold
		return
	}
	in.cooldown--
	if in.cooldown <= 0 {
		in.substeps = max(in.substeps-1, 1)
		in.cooldown = speedUpHold
	}
}

// step applies one sub-step of size h and returns the change in value.
func (in *Integrator) step(h float64, f DerivativeFunc) float64 {
	v := in.value
	switch in.method {
	case EulerBackward:
		in.value = v + h*f(v)

	case EulerBackMod:
		if !in.primed {
			in.history[0] = f(v)
			in.primed = true
		}
		in.value = v + h/2*(in.history[0]+f(v))
		in.history[0] = f(in.value)

	case RungeKutta2:
		mid := v + h/2*f(v)
		in.value = v + h*f(mid)

	case RungeKutta4:
		k1 := f(v)
		k2 := f(v + k1*h/2)
		k3 := f(v + k2*h/2)
		k4 := f(v + k3*h)
		in.value = v + (k1+2*k2+2*k3+k4)*h/6

	case AdamsMoulton:
		p := in.history
		predicted := v + h/24*(55*p[0]-59*p[1]+37*p[2]-9*p[3])
		in.value = v + h/24*(9*f(predicted)+19*p[0]-5*p[1]+p[2])
		copy(in.history[1:], in.history[:historyLen-1])
		in.history[0] = f(in.value)
	}
	return in.value - v
}
