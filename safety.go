package crokinole

import (
	"fmt"
	"math"

	"go.viam.com/rdk/logging"
)

// LimitKind identifies which soft bound a joint crossed.
type LimitKind int

const (
	LimitPositionMax LimitKind = iota
	LimitPositionMin
	LimitVelocity
	LimitTorque
)

func (k LimitKind) String() string {
	switch k {
	case LimitPositionMax:
		return "MAX JOINT POSITION"
	case LimitPositionMin:
		return "MIN JOINT POSITION"
	case LimitVelocity:
		return "MAX JOINT VELOCITY"
	case LimitTorque:
		return "MAX JOINT TORQUE"
	default:
		return fmt.Sprintf("LimitKind(%d)", int(k))
	}
}

// Violation reports one joint exceeding one soft limit on one tick.
type Violation struct {
	Joint int // zero-based
	Kind  LimitKind
	Value float64
	Limit float64
}

func (v Violation) String() string {
	return fmt.Sprintf("joint %d violated %s soft limit: %.4f vs %.4f",
		v.Joint+1, v.Kind, v.Value, v.Limit)
}

// SafetyMonitor checks measured state and commanded torque against the
// static soft limits. It mirrors the hardware driver's own soft-limit layer:
// diagnostic reporting only, it never clamps or vetoes the command.
type SafetyMonitor struct {
	limits SafetyLimits
	logger logging.Logger
}

// NewSafetyMonitor builds a monitor over the configured limits.
func NewSafetyMonitor(limits SafetyLimits, logger logging.Logger) *SafetyMonitor {
	return &SafetyMonitor{limits: limits, logger: logger}
}

// Inspect checks every joint independently against all four bounds using
// strict inequalities: a value exactly on a limit is not flagged. Found
// violations are logged and returned; the caller's command passes through
// untouched.
func (m *SafetyMonitor) Inspect(q, dq, tau []float64) []Violation {
	var violations []Violation
	for i := range q {
		if q[i] > m.limits.PositionMax[i] {
			violations = append(violations, Violation{
				Joint: i, Kind: LimitPositionMax, Value: q[i], Limit: m.limits.PositionMax[i],
			})
		}
		if q[i] < m.limits.PositionMin[i] {
			violations = append(violations, Violation{
				Joint: i, Kind: LimitPositionMin, Value: q[i], Limit: m.limits.PositionMin[i],
			})
		}
		if math.Abs(dq[i]) > m.limits.Velocity[i] {
			violations = append(violations, Violation{
				Joint: i, Kind: LimitVelocity, Value: dq[i], Limit: m.limits.Velocity[i],
			})
		}
		if i < len(tau) && math.Abs(tau[i]) > m.limits.Torque[i] {
			violations = append(violations, Violation{
				Joint: i, Kind: LimitTorque, Value: tau[i], Limit: m.limits.Torque[i],
			})
		}
	}

	if m.logger != nil {
		for _, v := range violations {
			m.logger.Warnf("------!! VIOLATED %s SOFT LIMIT !!------- %s", v.Kind, v)
		}
	}
	return violations
}
