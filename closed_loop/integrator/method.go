package integrator

import (
	"fmt"
	"strings"
)

// Method selects the per-sub-step update rule.
type Method int

const (
	EulerBackward Method = iota
	EulerBackMod
	EulerForward // not implemented
	RungeKutta2
	RungeKutta4
	NewtonRhapson // not implemented
	AdamsMoulton
)

var methodNames = [...]string{
	EulerBackward: "EulerBackward",
	EulerBackMod:  "EulerBackMod",
	EulerForward:  "EulerForward",
	RungeKutta2:   "RungeKutta2",
	RungeKutta4:   "RungeKutta4",
	NewtonRhapson: "NewtonRhapson",
	AdamsMoulton:  "AdamsMoulton",
}

func (m Method) String() string {
	if m >= 0 && int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Implemented reports whether Integrate supports the method.
func (m Method) Implemented() bool {
	switch m {
	case EulerBackward, EulerBackMod, RungeKutta2, RungeKutta4, AdamsMoulton:
		return true
	}
	return false
}

// ParseMethod accepts method names case-insensitively.
func ParseMethod(s string) (Method, error) {
	for k, name := range methodNames {
		if strings.EqualFold(s, name) {
			return Method(k), nil
		}
	}
	return 0, fmt.Errorf("unknown integration method %q", s)
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
