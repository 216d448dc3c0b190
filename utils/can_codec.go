package utils

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"go.einride.tech/can"
)

// EncodeFrame packs physical values into the named frame. Missing signals
// take their default; values are clamped to the signal's physical range and
// then to what the raw field can hold.
func (m *CANMap) EncodeFrame(frameName string, values map[string]float64) (can.Frame, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return can.Frame{}, err
	}
	if fd.DLC <= 0 || fd.DLC > 8 {
		return can.Frame{}, fmt.Errorf("frame %s has invalid DLC %d", fd.Name, fd.DLC)
	}

	var payload uint64
	for _, s := range fd.Signals {
		v, ok := values[s.Name]
		if !ok {
			v = s.Default
		}
		if s.Min < s.Max {
			v = lo.Clamp(v, s.Min, s.Max)
		}

		raw := int64(math.Round((v - s.Offset) / s.Factor))
		if s.BitLength < 64 {
			lower, upper := rawRange(s.BitLength, s.Signed)
			raw = lo.Clamp(raw, lower, upper)
		}
		payload = insertBits(payload, s.StartBit, s.BitLength, uint64(raw))
	}

	f := can.Frame{ID: fd.ID, Length: uint8(fd.DLC)}
	for i := 0; i < fd.DLC; i++ {
		f.Data[i] = byte(payload >> (8 * i))
	}
	return f, nil
}

// DecodeFrame unpacks a received frame into physical values keyed by
// signal name.
func (m *CANMap) DecodeFrame(f can.Frame) (map[string]float64, error) {
	fd, err := m.FrameByID(f.ID)
	if err != nil {
		return nil, err
	}
	if int(f.Length) < fd.DLC {
		return nil, fmt.Errorf("frame 0x%X expects DLC %d, got %d", f.ID, fd.DLC, f.Length)
	}

	var payload uint64
	for i := 0; i < fd.DLC; i++ {
		payload |= uint64(f.Data[i]) << (8 * i)
	}

	out := make(map[string]float64, len(fd.Signals))
	for _, s := range fd.Signals {
		raw := extractBits(payload, s.StartBit, s.BitLength, s.Signed)
		out[s.Name] = float64(raw)*s.Factor + s.Offset
	}
	return out, nil
}

func bitMask(bitLen int) uint64 {
	return uint64(1)<<bitLen - 1
}

func insertBits(payload uint64, startBit, bitLen int, value uint64) uint64 {
	mask := bitMask(bitLen)
	payload &^= mask << startBit
	return payload | (value&mask)<<startBit
}

func extractBits(payload uint64, startBit, bitLen int, signed bool) int64 {
	u := (payload >> startBit) & bitMask(bitLen)
	if !signed || bitLen == 64 {
		return int64(u)
	}
	shift := 64 - bitLen
	return int64(u<<shift) >> shift
}

func rawRange(bitLen int, signed bool) (int64, int64) {
	if signed {
		return -(int64(1) << (bitLen - 1)), int64(1)<<(bitLen-1) - 1
	}
	return 0, int64(bitMask(bitLen))
}
