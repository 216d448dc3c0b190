package main

import (
	"fmt"

	"traction-control-core/closed_loop/integrator"
	control "traction-control-core/closed_loop/longitudinal_control"
)

const gravityMPSS = 9.80665

// Train is a point-mass longitudinal model. Speed is integrated from the
// net force with the configured method; position is integrated from speed.
type Train struct {
	params   TrainParams
	speed    *integrator.Integrator
	position *integrator.Integrator
	accel    float64
}

func NewTrain(p TrainParams) (*Train, error) {
	speed, err := integrator.New(integrator.Config{
		Method:           p.IntegrationMethod,
		InitialCondition: p.InitialSpeedMPS,
		MaxSubsteps:      p.MaxSubsteps,
		Limited:          true,
		Min:              0,
		Max:              p.MaxSpeedMPS,
	})
	if err != nil {
		return nil, fmt.Errorf("speed integrator: %w", err)
	}
	// position sees a constant derivative per tick, one sub-step is exact
	position, err := integrator.New(integrator.Config{Method: integrator.EulerBackward, MaxSubsteps: 1})
	if err != nil {
		return nil, fmt.Errorf("position integrator: %w", err)
	}
	return &Train{params: p, speed: speed, position: position}, nil
}

// MaxAcceleration is the acceleration at full throttle on level track from
// rest, ignoring resistance.
func (tr *Train) MaxAcceleration() float64 {
	return tr.params.MaxTractiveForceN / tr.params.MassKg
}

// MaxDeceleration is the magnitude of full service braking.
func (tr *Train) MaxDeceleration() float64 {
	return tr.params.MaxBrakeForceN / tr.params.MassKg
}

// Resistance returns the Davis running resistance at speed v.
func (tr *Train) Resistance(v float64) float64 {
	p := tr.params
	return p.DavisAN + p.DavisBNs*v + p.DavisCNs2*v*v
}

// NetAcceleration returns dv/dt for speed v under the given command on a
// gradient of gradePct (positive uphill).
func (tr *Train) NetAcceleration(v float64, cmd control.ControlOutput, gradePct float64) float64 {
	p := tr.params
	throttle := control.Clamp(cmd.ThrottlePct, 0, 100) / 100
	brake := control.Clamp(cmd.BrakePct, 0, 100) / 100

	force := throttle*p.MaxTractiveForceN - brake*p.MaxBrakeForceN - tr.Resistance(v)
	force -= p.MassKg * gravityMPSS * gradePct / 100
	return force / p.MassKg
}

// Step advances the model by dt seconds.
func (tr *Train) Step(dt float64, cmd control.ControlOutput, gradePct float64) error {
	v0 := tr.speed.Value()
	v1, err := tr.speed.Integrate(dt, func(v float64) float64 {
		return tr.NetAcceleration(v, cmd, gradePct)
	})
	if err != nil {
		return err
	}
	mean := (v0 + v1) / 2
	if _, err := tr.position.Integrate(dt, func(float64) float64 { return mean }); err != nil {
		return err
	}
	if dt > 0 {
		tr.accel = (v1 - v0) / dt
	}
	return nil
}

func (tr *Train) Speed() float64    { return tr.speed.Value() }
func (tr *Train) Position() float64 { return tr.position.Value() }
func (tr *Train) Accel() float64    { return tr.accel }
func (tr *Train) Substeps() int     { return tr.speed.Substeps() }
