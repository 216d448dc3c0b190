package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// WriteCheckpoint stores the speed and position integrators as one zstd
// stream.
func WriteCheckpoint(w io.Writer, tr *Train) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("checkpoint encoder: %w", err)
	}
	if err := tr.speed.Save(zw); err != nil {
		_ = zw.Close()
		return err
	}
	if err := tr.position.Save(zw); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// ReadCheckpoint restores a stream written by WriteCheckpoint and makes the
// restored values the integrators' initial conditions.
func ReadCheckpoint(r io.Reader, tr *Train) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("checkpoint decoder: %w", err)
	}
	defer zr.Close()

	if err := tr.speed.Restore(zr); err != nil {
		return err
	}
	if err := tr.position.Restore(zr); err != nil {
		return err
	}
	// the resumed state is this run's starting point
	tr.speed.SetInitialCondition(tr.speed.Value())
	tr.position.SetInitialCondition(tr.position.Value())
	return nil
}

func SaveCheckpoint(path string, tr *Train) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCheckpoint(f, tr); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadCheckpoint restores tr from path. It reports false without error when
// no checkpoint exists yet.
func LoadCheckpoint(path string, tr *Train) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := ReadCheckpoint(f, tr); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return true, nil
}
