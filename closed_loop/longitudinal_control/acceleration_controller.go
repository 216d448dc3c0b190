package control

import (
	"fmt"
	"math"

	"github.com/golang/glog"
)

// Tuning is an immutable set of acceleration controller gains. The base
// coefficients are the configured gains times 100; the factors are the base
// coefficients divided by the vehicle's maximum acceleration. A *Tuning may
// be shared freely between controllers.
type Tuning struct {
	coefficients [3]float64
	factors      [3]float64
}

// NewTuning stores 100×p, 100×i and 100×d. Until scaled, the factors equal
// the base coefficients.
func NewTuning(p, i, d float64) *Tuning {
	c := [3]float64{100 * p, 100 * i, 100 * d}
	return &Tuning{coefficients: c, factors: c}
}

// Scaled returns a tuning whose factors are the base coefficients divided by
// maxAccelMpSS. Scaling always starts from the base coefficients.
func (t *Tuning) Scaled(maxAccelMpSS float64) (*Tuning, error) {
	if maxAccelMpSS <= 0 {
		return nil, fmt.Errorf("scale by %g m/s²: %w", maxAccelMpSS, ErrInvalidAcceleration)
	}
	s := &Tuning{coefficients: t.coefficients}
	for k, c := range t.coefficients {
		s.factors[k] = c / maxAccelMpSS
	}
	return s, nil
}

func (t *Tuning) ProportionalFactor() float64 { return t.factors[0] }
func (t *Tuning) IntegralFactor() float64     { return t.factors[1] }
func (t *Tuning) DerivativeFactor() float64   { return t.factors[2] }

// Coefficients returns the unscaled base coefficients (100× the gains).
func (t *Tuning) Coefficients() [3]float64 { return t.coefficients }

// AccelerationController maps a target/actual acceleration pair to a
// throttle or brake percentage. The proportional term acts on the target
// acceleration as feed-forward; the integral and derivative terms act on
// the error. It is not safe for concurrent use.
type AccelerationController struct {
	tuning     *Tuning
	minPercent float64
	maxPercent float64
	antiWindup AntiWindup

	// State
	active     bool
	totalError float64
	lastError  float64
	lastTarget float64

	percent  float64
	pPercent float64
	iPercent float64
	dPercent float64
}

// NewAccelerationController creates an acceleration controller. When the
// config names a maximum acceleration the gains are adjusted to it.
func NewAccelerationController(cfg AccelerationConfig) (*AccelerationController, error) {
	if cfg.MinPercent == 0 && cfg.MaxPercent == 0 {
		cfg.MaxPercent = 100
	}
	if err := checkBounds(cfg.MinPercent, cfg.MaxPercent); err != nil {
		return nil, fmt.Errorf("percent limits [%g, %g]: %w", cfg.MinPercent, cfg.MaxPercent, err)
	}

	ac := &AccelerationController{
		tuning:     NewTuning(cfg.P, cfg.I, cfg.D),
		minPercent: cfg.MinPercent,
		maxPercent: cfg.MaxPercent,
		antiWindup: cfg.AntiWindup.resolve(AntiWindupBackCalculation),
	}
	if cfg.MaxAccelerationMpSS != 0 {
		if err := ac.Adjust(cfg.MaxAccelerationMpSS); err != nil {
			return nil, err
		}
	}
	return ac, nil
}

// Adjust rescales the gains to a vehicle's maximum acceleration.
func (ac *AccelerationController) Adjust(maxAccelerationMpSS float64) error {
	t, err := ac.tuning.Scaled(maxAccelerationMpSS)
	if err != nil {
		return err
	}
	ac.tuning = t
	return nil
}

// Tuning returns the shared gains
func (ac *AccelerationController) Tuning() *Tuning {
	return ac.tuning
}

// Clone returns an inactive controller sharing this controller's tuning and
// limits, with its own state.
func (ac *AccelerationController) Clone() *AccelerationController {
	return &AccelerationController{
		tuning:     ac.tuning,
		minPercent: ac.minPercent,
		maxPercent: ac.maxPercent,
		antiWindup: ac.antiWindup,
	}
}

// Active reports whether the controller has been activated
func (ac *AccelerationController) Active() bool {
	return ac.active
}

// SetActive switches the controller on or off. Switching it on from off
// resets the state.
func (ac *AccelerationController) SetActive(active bool) {
	if active && !ac.active {
		ac.Reset()
	}
	ac.active = active
}

// Reset clears accumulated error and output
func (ac *AccelerationController) Reset() {
	ac.totalError = 0
	ac.lastError = 0
	ac.lastTarget = 0
	ac.percent = 0
	ac.pPercent, ac.iPercent, ac.dPercent = 0, 0, 0
}

// Update computes the output percentage within the configured limits.
func (ac *AccelerationController) Update(elapsedSeconds, targetAccel, currentAccel float64) float64 {
	// limits were validated on creation
	out, _ := ac.UpdateBounded(elapsedSeconds, targetAccel, currentAccel, ac.minPercent, ac.maxPercent)
	return out
}

// UpdateBounded computes the output percentage within [minPercent, maxPercent].
// Non-finite inputs leave the state untouched and return the previous output
// clamped to the limits.
func (ac *AccelerationController) UpdateBounded(elapsedSeconds, targetAccel, currentAccel, minPercent, maxPercent float64) (float64, error) {
	if err := checkBounds(minPercent, maxPercent); err != nil {
		return ac.percent, fmt.Errorf("percent limits [%g, %g]: %w", minPercent, maxPercent, err)
	}
	if !ac.active {
		ac.SetActive(true)
	}
	if !finite(elapsedSeconds, targetAccel, currentAccel) {
		ac.percent = Clamp(ac.percent, minPercent, maxPercent)
		return ac.percent, nil
	}

	t := ac.tuning
	err := targetAccel - currentAccel

	totalError := ac.totalError
	if ac.antiWindup != AntiWindupConditional ||
		integrationAllowed(ac.percent, err, minPercent, maxPercent, minPercent, maxPercent) {
		totalError += (err + ac.lastError) * elapsedSeconds / 2
	}

	pPercent := t.ProportionalFactor() * targetAccel
	iPercent := t.IntegralFactor() * totalError
	var dPercent float64
	if elapsedSeconds > 0 && t.DerivativeFactor() != 0 {
		dPercent = t.DerivativeFactor() * (err - ac.lastError) / elapsedSeconds
	}
	percent := pPercent + iPercent + dPercent
	if math.IsNaN(percent) {
		ac.percent = Clamp(ac.percent, minPercent, maxPercent)
		return ac.percent, nil
	}

	ac.totalError = totalError
	ac.pPercent, ac.iPercent, ac.dPercent = pPercent, iPercent, dPercent
	ac.percent = percent
	if ac.percent > maxPercent {
		ac.saturate(maxPercent, true)
	} else if ac.percent < minPercent {
		ac.saturate(minPercent, false)
	}

	ac.lastError = err
	ac.lastTarget = targetAccel
	return ac.percent, nil
}

func (ac *AccelerationController) saturate(limit float64, upper bool) {
	if glog.V(2) {
		glog.Infof("acceleration controller: %.3f%% clamped to %.3f%%", ac.percent, limit)
	}
	ac.percent = limit
	if ac.antiWindup != AntiWindupBackCalculation {
		return
	}
	if total, ok := SolveIntegralForBoundary(limit, ac.pPercent, ac.tuning.IntegralFactor()); ok {
		ac.totalError = total
		ac.iPercent = ac.tuning.IntegralFactor() * total
	} else {
		ac.totalError = limitErrorSign(ac.totalError, upper)
	}
}

// Percent returns the most recent output
func (ac *AccelerationController) Percent() float64 {
	return ac.percent
}

// TotalError returns the accumulated acceleration error
func (ac *AccelerationController) TotalError() float64 {
	return ac.totalError
}

// Diagnostics returns current state for monitoring
func (ac *AccelerationController) Diagnostics() AccelerationDiagnostics {
	return AccelerationDiagnostics{
		Error:      ac.lastError,
		Target:     ac.lastTarget,
		TotalError: ac.totalError,
		PPercent:   ac.pPercent,
		IPercent:   ac.iPercent,
		DPercent:   ac.dPercent,
		Percent:    ac.percent,
	}
}

// AccelerationDiagnostics contains internal state for monitoring
type AccelerationDiagnostics struct {
	Error      float64
	Target     float64
	TotalError float64
	PPercent   float64
	IPercent   float64
	DPercent   float64
	Percent    float64
}
