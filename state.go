package crokinole

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Mode is the top-level supervisory gate. The controller idles in ModeWait
// holding its posture until the activation token flips it to ModeExecute.
type Mode int

const (
	ModeWait Mode = iota
	ModeExecute
)

func (m Mode) String() string {
	switch m {
	case ModeWait:
		return "WAIT"
	case ModeExecute:
		return "EXECUTE"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Phase is one segment of the manipulation task within a single EXECUTE
// cycle. Transitions are forward-only and reset to PhaseApproach when the
// controller returns to ModeWait.
type Phase int

const (
	PhaseApproach Phase = iota
	PhaseTrack
	PhaseShot
	PhaseReturn
)

func (p Phase) String() string {
	switch p {
	case PhaseApproach:
		return "APPROACH"
	case PhaseTrack:
		return "TRACK"
	case PhaseShot:
		return "SHOT"
	case PhaseReturn:
		return "RETURN"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ControllerState is the complete mutable state of the supervisory layer.
// It is passed and returned by value through the tick path; nothing else
// holds mode or phase.
type ControllerState struct {
	Mode      Mode
	Phase     Phase
	Tick      uint64
	PhaseTime float64 // seconds since the trajectory clock was re-zeroed
}

// RobotSnapshot is the measured robot state for one tick. It is produced
// fresh by the adapter each tick and read-only to everything downstream.
type RobotSnapshot struct {
	Q  []float64 // joint positions, rad
	DQ []float64 // joint velocities, rad/s

	EEPosition     r3.Vector // m, robot frame
	EEVelocity     r3.Vector // m/s
	EEAcceleration r3.Vector // m/s^2

	AngularVelocity     r3.Vector // rad/s
	AngularAcceleration r3.Vector // rad/s^2
}

// PhaseWindow partitions the task timeline into the four trajectory
// intervals [T0,T1), [T1,T2), [T2,T3), [T3,T4). The boundaries are fixed for
// one EXECUTE cycle, except T4 which is re-anchored once when the shot phase
// hands off to the return phase.
type PhaseWindow struct {
	T0, T1, T2, T3, T4 float64
}

// NewPhaseWindow validates strict ordering of the boundaries.
func NewPhaseWindow(t0, t1, t2, t3, t4 float64) (PhaseWindow, error) {
	if !(t0 < t1 && t1 < t2 && t2 < t3 && t3 < t4) {
		return PhaseWindow{}, fmt.Errorf(
			"phase window boundaries must be strictly increasing, got %.3f %.3f %.3f %.3f %.3f",
			t0, t1, t2, t3, t4)
	}
	return PhaseWindow{T0: t0, T1: t1, T2: t2, T3: t3, T4: t4}, nil
}

// inRange reports whether t lies in the half-open interval [lower, upper).
func inRange(t, lower, upper float64) bool {
	return t >= lower && t < upper
}

// ShotParameters describes one strike. Captured once at the WAIT->EXECUTE
// transition and immutable until the next one.
type ShotParameters struct {
	DropOff     r3.Vector // board frame, m; Z unused
	StrikeAngle float64   // psi, rad about vertical

	SwingAmplitude float64 // rad
	AngularRate    float64 // rad/s
	ShotDuration   float64 // s

	// Straight marks the degenerate strike where psi sits within tolerance
	// of perpendicular; the flick then runs with a slower terminal-joint cap.
	Straight bool
}

// GainSet is the feedback gain schedule for one phase. Swapped atomically at
// phase transitions.
type GainSet struct {
	JointKP float64
	JointKV float64
	PoseKP  float64
	PoseKV  float64

	// JointVelocitySaturation caps per-joint commanded velocity, rad/s.
	// nil disables saturation for the joint task.
	JointVelocitySaturation []float64

	PoseLinearSaturation  float64 // m/s
	PoseAngularSaturation float64 // rad/s
}
