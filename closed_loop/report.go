package main

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Sample is one logged simulation tick.
type Sample struct {
	T            float64
	TargetSpeed  float64
	Speed        float64
	TargetAccel  float64
	Accel        float64
	ThrottlePct  float64
	BrakePct     float64
	PositionM    float64
	Substeps     int
	ControlState string
}

var csvHeader = []string{
	"t_s", "target_speed_mps", "speed_mps", "target_accel_mpss", "accel_mpss",
	"throttle_pct", "brake_pct", "position_m", "substeps", "state",
}

// Recorder keeps samples at the scenario's logging rate.
type Recorder struct {
	runID   string
	every   int
	ticks   int
	Samples []Sample
}

// NewRecorder logs every tick when logHz is zero or not below the tick rate.
func NewRecorder(runID string, dtS, logHz float64) *Recorder {
	every := 1
	if logHz > 0 && dtS > 0 {
		every = max(int(1/(dtS*logHz)+0.5), 1)
	}
	return &Recorder{runID: runID, every: every}
}

func (rec *Recorder) Add(s Sample) {
	if rec.ticks%rec.every == 0 {
		rec.Samples = append(rec.Samples, s)
	}
	rec.ticks++
}

func WriteCSV(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, s := range samples {
		row := []string{
			f(s.T), f(s.TargetSpeed), f(s.Speed), f(s.TargetAccel), f(s.Accel),
			f(s.ThrottlePct), f(s.BrakePct), f(s.PositionM), strconv.Itoa(s.Substeps), s.ControlState,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReport writes the CSV trace and PNG plots into dir.
func (rec *Recorder) WriteReport(dir string) error {
	if len(rec.Samples) == 0 {
		return fmt.Errorf("no samples recorded")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, "trace_"+rec.runID+".csv"))
	if err != nil {
		return err
	}
	if err := WriteCSV(f, rec.Samples); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	pick := func(get func(Sample) float64) plotter.XYs {
		pts := make(plotter.XYs, len(rec.Samples))
		for i, s := range rec.Samples {
			pts[i].X, pts[i].Y = s.T, get(s)
		}
		return pts
	}

	plots := []struct {
		file, title, ylabel string
		series              []series
	}{
		{"speed", "Speed", "speed (m/s)", []series{
			{"target", pick(func(s Sample) float64 { return s.TargetSpeed })},
			{"actual", pick(func(s Sample) float64 { return s.Speed })},
		}},
		{"command", "Traction / brake command", "percent", []series{
			{"throttle", pick(func(s Sample) float64 { return s.ThrottlePct })},
			{"brake", pick(func(s Sample) float64 { return s.BrakePct })},
		}},
		{"substeps", "Speed integrator sub-steps", "sub-steps", []series{
			{"substeps", pick(func(s Sample) float64 { return float64(s.Substeps) })},
		}},
	}
	for _, p := range plots {
		path := filepath.Join(dir, p.file+"_"+rec.runID+".png")
		if err := saveLinePlot(path, p.title+" ("+rec.runID+")", p.ylabel, p.series); err != nil {
			return fmt.Errorf("plot %s: %w", p.file, err)
		}
	}
	return nil
}

type series struct {
	name string
	pts  plotter.XYs
}

var seriesColors = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
}

func saveLinePlot(path, title, ylabel string, data []series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	for i, s := range data {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = seriesColors[i%len(seriesColors)]
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
