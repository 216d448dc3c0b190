package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

var requiredColumns = []string{
	"direction", "frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length", "endianness",
	"signed", "factor", "offset", "min", "max", "default", "unit", "comment",
}

// LoadCANMap reads a CAN map CSV file, one row per signal.
func LoadCANMap(csvPath string) (*CANMap, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ReadCANMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	return m, nil
}

// ReadCANMap parses CAN map CSV from r.
func ReadCANMap(r io.Reader) (*CANMap, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("missing required column %q", k)
		}
	}

	m := &CANMap{
		ByID:   map[uint32]*FrameDef{},
		ByName: map[string]*FrameDef{},
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		row := rowParser{rec: rec, idx: idx}

		frameID := row.hexOrDec("frame_id")
		frameName := row.text("frame_name")
		direction := strings.ToLower(row.text("direction"))
		cycleMS := row.integer("cycle_ms")
		dlc := row.integer("dlc")

		sig := SignalDef{
			Name:      row.text("signal_name"),
			StartBit:  row.integer("start_bit"),
			BitLength: row.integer("bit_length"),
			Signed:    row.flag("signed"),
			Factor:    row.number("factor"),
			Offset:    row.number("offset"),
			Min:       row.number("min"),
			Max:       row.number("max"),
			Default:   row.number("default"),
			Unit:      row.text("unit"),
			Comment:   row.text("comment"),
		}
		if row.err != nil {
			return nil, fmt.Errorf("line %d: %w", line, row.err)
		}

		if e := row.text("endianness"); e != "" && e != "little" {
			return nil, fmt.Errorf("line %d: frame %s signal %s: unsupported endianness %q (only little supported)",
				line, frameName, sig.Name, e)
		}
		if direction != DirTX && direction != DirRX {
			return nil, fmt.Errorf("line %d: frame %s: direction must be tx or rx, got %q", line, frameName, direction)
		}
		if sig.BitLength <= 0 || sig.StartBit < 0 || sig.StartBit+sig.BitLength > 64 {
			return nil, fmt.Errorf("line %d: frame %s signal %s: bits [%d,+%d) outside payload",
				line, frameName, sig.Name, sig.StartBit, sig.BitLength)
		}
		if sig.Factor == 0 {
			return nil, fmt.Errorf("line %d: frame %s signal %s: zero factor", line, frameName, sig.Name)
		}
		if dlc <= 0 || dlc > 8 {
			return nil, fmt.Errorf("line %d: frame %s (0x%X): invalid dlc %d", line, frameName, frameID, dlc)
		}

		fd, ok := m.ByID[frameID]
		if !ok {
			fd = &FrameDef{
				ID:        frameID,
				Name:      frameName,
				DLC:       dlc,
				Direction: direction,
				CycleMS:   cycleMS,
			}
			m.ByID[frameID] = fd
			m.ByName[frameName] = fd
		}
		if fd.DLC != dlc {
			return nil, fmt.Errorf("line %d: frame %s (0x%X) has inconsistent DLC (%d vs %d)", line, frameName, frameID, fd.DLC, dlc)
		}
		fd.Signals = append(fd.Signals, sig)
	}

	for _, fd := range m.ByID {
		sort.Slice(fd.Signals, func(i, j int) bool { return fd.Signals[i].StartBit < fd.Signals[j].StartBit })
	}
	return m, nil
}

func (m *CANMap) FrameByName(name string) (*FrameDef, error) {
	fd, ok := m.ByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown frame %q (available: %v)", name, m.FrameNames())
	}
	return fd, nil
}

func (m *CANMap) FrameByID(id uint32) (*FrameDef, error) {
	fd, ok := m.ByID[id]
	if !ok {
		return nil, fmt.Errorf("unknown frame id 0x%X", id)
	}
	return fd, nil
}

// rowParser reads typed columns from one CSV record, keeping the first
// parse error.
type rowParser struct {
	rec []string
	idx map[string]int
	err error
}

func (p *rowParser) text(col string) string {
	i := p.idx[col]
	if i >= len(p.rec) {
		return ""
	}
	return strings.TrimSpace(p.rec[i])
}

func (p *rowParser) fail(col string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("column %s: %w", col, err)
	}
}

func (p *rowParser) integer(col string) int {
	v, err := strconv.Atoi(p.text(col))
	if err != nil {
		p.fail(col, err)
	}
	return v
}

func (p *rowParser) number(col string) float64 {
	s := p.text(col)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(col, err)
	}
	return v
}

func (p *rowParser) flag(col string) bool {
	switch strings.ToLower(p.text(col)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func (p *rowParser) hexOrDec(col string) uint32 {
	s := p.text(col)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	u, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		p.fail(col, err)
	}
	return uint32(u)
}
