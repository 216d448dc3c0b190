//go:build !linux && !darwin

package utils

import (
	"context"
	"errors"

	"go.einride.tech/can"
)

var errNoSocketCAN = errors.New("socketcan is not available on this platform")

type SocketCANWriter struct{}

func NewSocketCANWriter(context.Context, string) (*SocketCANWriter, error) {
	return nil, errNoSocketCAN
}

func (*SocketCANWriter) WriteFrame(context.Context, can.Frame) error { return errNoSocketCAN }
func (*SocketCANWriter) Close() error                                { return nil }

type SocketCANReader struct{}

func NewSocketCANReader(context.Context, string) (*SocketCANReader, error) {
	return nil, errNoSocketCAN
}

func (*SocketCANReader) ReadFrame(context.Context) (can.Frame, error) {
	return can.Frame{}, errNoSocketCAN
}
func (*SocketCANReader) Close() error { return nil }
