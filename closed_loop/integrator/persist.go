package integrator

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Save writes the integrated value as one little-endian float32.
func (in *Integrator) Save(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, float32(in.value)); err != nil {
		return fmt.Errorf("save integrator: %w", err)
	}
	return nil
}

// Restore reads a value written by Save. The derivative history is not
// persisted; its slots are re-primed with the restored value, so the first
// AdamsMoulton steps after a restore differ from an uninterrupted run.
func (in *Integrator) Restore(r io.Reader) error {
	var v float32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return fmt.Errorf("restore integrator: %w", err)
	}
	in.value = float64(v)
	for k := range in.history {
		in.history[k] = in.value
	}
	in.primed = true
	return nil
}
