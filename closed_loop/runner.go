package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	control "traction-control-core/closed_loop/longitudinal_control"
	"traction-control-core/utils"
)

const (
	tractionFrame = "TRACTION_CMD_1"
	stateFrame    = "TRAIN_STATE_1"
	driverFrame   = "DRIVER_CMD_1"

	diagEveryTicks = 50

	rxErrorLogEvery = 20
	rxBackoffMin    = 10 * time.Millisecond
	rxBackoffMax    = time.Second
)

// requiredSignals lists the signals the simulator cannot run without.
var requiredSignals = map[string][]string{
	tractionFrame: {"throttle_pct", "brake_pct"},
	stateFrame:    {"speed_mps"},
}

type RunnerConfig struct {
	Interface      string
	MapPath        string
	ScenarioPath   string
	CandumpPath    string
	OutDir         string
	CheckpointPath string
	RunID          string
}

// driverCommand is a decoded DRIVER_CMD_1 frame.
type driverCommand struct {
	TargetSpeedMPS float64
	Active         bool
}

type Runner struct {
	cfg    RunnerConfig
	log    *utils.Logger
	cmap   *utils.CANMap
	scen   Scenario
	writer utils.CANWriter
	reader utils.CANReader // nil when frames only go to a candump log

	train    *Train
	speedPID *control.PIDController
	traction *control.AccelerationController
	brake    *control.AccelerationController

	driver driverCommand
	nextTx map[string]int64 // due time in ms per transmitted frame
	rec    *Recorder
	sent   uint64
}

func NewRunner(ctx context.Context, cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	cmap, err := utils.LoadCANMap(cfg.MapPath)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}

	scen, err := LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}

	writer, reader, err := openTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r, err := newRunner(cfg, log, scen, cmap, writer, reader)
	if err != nil {
		_ = writer.Close()
		if reader != nil {
			_ = reader.Close()
		}
		return nil, err
	}
	return r, nil
}

type discardCloser struct{ io.Writer }

func (discardCloser) Close() error { return nil }

// openTransport uses SocketCAN when an interface is named, otherwise a
// candump log (or nothing when no path is given either).
func openTransport(ctx context.Context, cfg RunnerConfig) (utils.CANWriter, utils.CANReader, error) {
	if cfg.Interface != "" {
		writer, err := utils.NewSocketCANWriter(ctx, cfg.Interface)
		if err != nil {
			return nil, nil, err
		}
		reader, err := utils.NewSocketCANReader(ctx, cfg.Interface)
		if err != nil {
			_ = writer.Close()
			return nil, nil, err
		}
		return writer, reader, nil
	}

	if cfg.CandumpPath == "" {
		return utils.NewCandumpWriter(discardCloser{io.Discard}, "sim"), nil, nil
	}
	f, err := os.Create(cfg.CandumpPath)
	if err != nil {
		return nil, nil, fmt.Errorf("candump log: %w", err)
	}
	return utils.NewCandumpWriter(f, "sim"), nil, nil
}

func newRunner(cfg RunnerConfig, log *utils.Logger, scen Scenario, cmap *utils.CANMap,
	writer utils.CANWriter, reader utils.CANReader) (*Runner, error) {
	for _, name := range []string{tractionFrame, stateFrame} {
		fd, err := cmap.FrameByName(name)
		if err != nil {
			return nil, fmt.Errorf("frame: %w", err)
		}
		if fd.Direction != utils.DirTX || fd.CycleMS <= 0 {
			return nil, fmt.Errorf("frame %s must be tx with a positive cycle_ms", name)
		}
		for _, sig := range requiredSignals[name] {
			if _, ok := fd.Signal(sig); !ok {
				return nil, fmt.Errorf("frame %s has no %s signal", name, sig)
			}
		}
	}

	train, err := NewTrain(scen.Train)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:    cfg,
		log:    log,
		cmap:   cmap,
		scen:   scen,
		writer: writer,
		reader: reader,
		train:  train,
		nextTx: map[string]int64{},
		rec:    NewRecorder(cfg.RunID, scen.Timing.DtS, scen.Timing.LogHz),
	}

	if cfg.CheckpointPath != "" {
		ok, err := LoadCheckpoint(cfg.CheckpointPath, train)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: %w", err)
		}
		if ok {
			log.Info("Resumed from %s: speed=%.2f m/s position=%.1f m",
				cfg.CheckpointPath, train.Speed(), train.Position())
		}
	}

	if scen.Meta.ControlMode == ModeOpenLoop {
		return r, nil
	}

	accCfg := *scen.Acceleration
	if accCfg.MaxAccelerationMpSS == 0 {
		accCfg.MaxAccelerationMpSS = train.MaxAcceleration()
	}
	r.traction, err = control.NewAccelerationController(accCfg)
	if err != nil {
		return nil, fmt.Errorf("traction controller: %w", err)
	}
	r.brake = r.traction.Clone()
	if err := r.brake.Adjust(train.MaxDeceleration()); err != nil {
		return nil, fmt.Errorf("brake controller: %w", err)
	}
	log.Info("Acceleration controllers: traction max=%.3f m/s2 Kp=%.2f, brake max=%.3f m/s2 Kp=%.2f",
		accCfg.MaxAccelerationMpSS, r.traction.Tuning().ProportionalFactor(),
		train.MaxDeceleration(), r.brake.Tuning().ProportionalFactor())

	if scen.Meta.ControlMode == ModeSpeedPID {
		pidCfg := *scen.SpeedPID
		if pidCfg.MinValue == 0 && pidCfg.MaxValue == 0 {
			pidCfg.MinValue, pidCfg.MaxValue = -train.MaxDeceleration(), train.MaxAcceleration()
		}
		r.speedPID, err = control.NewPIDController(pidCfg)
		if err != nil {
			return nil, fmt.Errorf("speed controller: %w", err)
		}
		log.Info("Speed PID initialized: P=%.3f I=%.3f D=%.3f output=[%.2f, %.2f] m/s2",
			pidCfg.P, pidCfg.I, pidCfg.D, pidCfg.MinValue, pidCfg.MaxValue)
	}
	return r, nil
}

func (r *Runner) Close() {
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		_ = r.writer.Close()
	}
}

// Run simulates the whole scenario, then writes the report and checkpoint
// when configured. Those are also written after a cancellation.
func (r *Runner) Run(ctx context.Context) (err error) {
	timing := r.scen.Timing
	steps := int(math.Round(timing.DurationS / timing.DtS))

	r.log.Info("Starting run: scenario=%s mode=%s duration=%.2fs dt=%.3fs method=%s real_time=%v",
		r.scen.Meta.Name, r.scen.Meta.ControlMode, timing.DurationS, timing.DtS,
		r.scen.Train.IntegrationMethod, timing.RealTimeMode)

	defer func() {
		if ferr := r.finish(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	var tick <-chan time.Time
	if timing.RealTimeMode {
		ticker := time.NewTicker(time.Duration(timing.DtS * float64(time.Second)))
		defer ticker.Stop()
		tick = ticker.C
	}

	driverCmds := make(chan driverCommand, 16)
	if r.reader != nil {
		go r.receiveLoop(ctx, driverCmds)
	}

	for k := 0; k < steps; k++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				r.log.Warn("Context canceled; stopping at step %d", k)
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			r.log.Warn("Context canceled; stopping at step %d", k)
			return err
		}

	drain:
		for {
			select {
			case cmd := <-driverCmds:
				if cmd != r.driver {
					r.log.Info("Driver override active=%v target=%.2f m/s", cmd.Active, cmd.TargetSpeedMPS)
				}
				r.driver = cmd
			default:
				break drain
			}
		}

		if err := r.step(ctx, float64(k)*timing.DtS, timing.DtS); err != nil {
			return err
		}
	}

	r.log.Info("Completed run. frames_sent=%d speed=%.2f m/s position=%.1f m",
		r.sent, r.train.Speed(), r.train.Position())
	return nil
}

func (r *Runner) step(ctx context.Context, t, dt float64) error {
	seg, _ := r.scen.SegmentAt(t)

	targetSpeed := seg.TargetSpeedMPS
	if r.driver.Active {
		targetSpeed = r.driver.TargetSpeedMPS
	}

	var (
		cmd         control.ControlOutput
		targetAccel float64
	)
	switch r.scen.Meta.ControlMode {
	case ModeOpenLoop:
		cmd = control.ControlOutput{
			ThrottlePct: seg.ThrottlePct,
			BrakePct:    seg.BrakePct,
			IsAccel:     seg.ThrottlePct > 0,
			IsBrake:     seg.BrakePct > 0,
		}
	case ModeAcceleration:
		targetAccel = seg.TargetAccelMPSS
		cmd = r.accelerationCommand(dt, targetAccel)
	case ModeSpeedPID:
		targetAccel = r.speedPID.Update(dt, targetSpeed-r.train.Speed())
		cmd = r.accelerationCommand(dt, targetAccel)
	}

	if err := r.train.Step(dt, cmd, seg.GradePct); err != nil {
		return fmt.Errorf("train step at t=%.3f: %w", t, err)
	}

	if err := r.transmit(ctx, t, cmd, targetAccel); err != nil {
		return err
	}

	state := control.GetControlModeStr(cmd)
	r.rec.Add(Sample{
		T:            t + dt,
		TargetSpeed:  targetSpeed,
		Speed:        r.train.Speed(),
		TargetAccel:  targetAccel,
		Accel:        r.train.Accel(),
		ThrottlePct:  cmd.ThrottlePct,
		BrakePct:     cmd.BrakePct,
		PositionM:    r.train.Position(),
		Substeps:     r.train.Substeps(),
		ControlState: state,
	})

	if r.rec.ticks%diagEveryTicks == 1 && r.log.Enabled(utils.DEBUG) {
		r.logDiagnostics(t, state)
	}
	return nil
}

// accelerationCommand routes the requested acceleration to the traction or
// brake controller. The idle one is switched off so that it starts clean the
// next time it is used.
func (r *Runner) accelerationCommand(dt, targetAccel float64) control.ControlOutput {
	current := r.train.Accel()
	if targetAccel >= 0 {
		r.brake.SetActive(false)
		pct := r.traction.Update(dt, targetAccel, current)
		return control.ControlOutput{ThrottlePct: pct, IsAccel: pct > 0}
	}
	r.traction.SetActive(false)
	pct := r.brake.Update(dt, -targetAccel, -current)
	return control.ControlOutput{BrakePct: pct, IsBrake: pct > 0}
}

func (r *Runner) transmit(ctx context.Context, t float64, cmd control.ControlOutput, targetAccel float64) error {
	nowMS := int64(math.Round(t * 1000))
	frames := []struct {
		name   string
		values map[string]float64
	}{
		{tractionFrame, map[string]float64{
			"throttle_pct":         cmd.ThrottlePct,
			"brake_pct":            cmd.BrakePct,
			"requested_accel_mpss": targetAccel,
			"mode":                 r.scen.ModeCode(),
			"system_enable":        control.BoolToFloat(true),
		}},
		{stateFrame, map[string]float64{
			"speed_mps":  r.train.Speed(),
			"accel_mpss": r.train.Accel(),
			"position_m": r.train.Position(),
			"substeps":   float64(r.train.Substeps()),
		}},
	}

	for _, f := range frames {
		if nowMS < r.nextTx[f.name] {
			continue
		}
		fd, _ := r.cmap.FrameByName(f.name)
		r.nextTx[f.name] = nowMS + int64(fd.CycleMS)

		frame, err := r.cmap.EncodeFrame(f.name, f.values)
		if err != nil {
			r.log.Error("Encode %s failed at t=%.3f: %v", f.name, t, err)
			return err
		}
		if err := r.writer.WriteFrame(ctx, frame); err != nil {
			r.log.Critical("Transmit %s failed at t=%.3f: %v", f.name, t, err)
			return err
		}
		r.sent++
		r.log.Trace("TX t=%.3f id=0x%X len=%d data=% X", t, frame.ID, frame.Length, frame.Data[:frame.Length])
	}
	return nil
}

func (r *Runner) logDiagnostics(t float64, state string) {
	r.log.Debug("t=%.2f %s v=%.2f a=%.3f x=%.1f substeps=%d", t, state,
		r.train.Speed(), r.train.Accel(), r.train.Position(), r.train.Substeps())
	if r.speedPID != nil {
		d := r.speedPID.Diagnostics()
		r.log.Debug("speed PID: err=%.3f P=%.3f I=%.3f D=%.3f out=%.3f", d.Error, d.P, d.I, d.D, d.Value)
	}
	for name, ac := range map[string]*control.AccelerationController{"traction": r.traction, "brake": r.brake} {
		if ac == nil || !ac.Active() {
			continue
		}
		d := ac.Diagnostics()
		r.log.Debug("%s: target=%.3f err=%.3f P=%.1f%% I=%.1f%% D=%.1f%% out=%.1f%%",
			name, d.Target, d.Error, d.PPercent, d.IPercent, d.DPercent, d.Percent)
	}
}

// finish writes the report and checkpoint.
func (r *Runner) finish() error {
	if r.cfg.OutDir != "" {
		if err := r.rec.WriteReport(r.cfg.OutDir); err != nil {
			r.log.Error("Report failed: %v", err)
			return fmt.Errorf("report: %w", err)
		}
		r.log.Info("Wrote %d samples to %s", len(r.rec.Samples), r.cfg.OutDir)
	}
	if r.cfg.CheckpointPath != "" {
		if err := SaveCheckpoint(r.cfg.CheckpointPath, r.train); err != nil {
			r.log.Error("Checkpoint failed: %v", err)
			return fmt.Errorf("checkpoint: %w", err)
		}
		r.log.Info("Saved checkpoint to %s", r.cfg.CheckpointPath)
	}
	return nil
}

// receiveLoop decodes driver commands until ctx is done.
func (r *Runner) receiveLoop(ctx context.Context, out chan<- driverCommand) {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	fd, err := r.cmap.FrameByName(driverFrame)
	if err != nil {
		r.log.Warn("No %s in CAN map; driver overrides disabled", driverFrame)
		return
	}

	failures := 0
	for {
		frame, err := r.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, utils.ErrCANClosed) {
				return
			}
			failures++
			if failures == 1 || failures%rxErrorLogEvery == 0 {
				r.log.Error("RX error (%d consecutive): %v", failures, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(rxBackoff(failures)):
			}
			continue
		}
		failures = 0
		r.log.Trace("RX id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])
		if frame.ID != fd.ID {
			continue
		}

		values, err := r.cmap.DecodeFrame(frame)
		if err != nil {
			r.log.Warn("Decode %s: %v", driverFrame, err)
			continue
		}
		select {
		case out <- driverCommand{TargetSpeedMPS: values["target_speed_mps"], Active: values["override_active"] != 0}:
		default:
			// Channel full, skip
		}
	}
}

// rxBackoff doubles the wait after each consecutive receive error.
func rxBackoff(failures int) time.Duration {
	d := rxBackoffMin << min(failures-1, 7)
	return min(d, rxBackoffMax)
}
