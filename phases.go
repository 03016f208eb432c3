package crokinole

import (
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/mat"
)

// ControlLaw selects which torque-synthesis formulation tracks the target.
type ControlLaw int

const (
	// LawJoint runs the joint-space task alone over the full space.
	LawJoint ControlLaw = iota
	// LawPose runs the operational-space pose task as primary with the
	// joint task projected into its nullspace.
	LawPose
)

// TargetCommand is what the phase machine hands the control stack each tick:
// the active law, its targets, and the gain set to apply.
type TargetCommand struct {
	Law ControlLaw

	JointTarget []float64
	Position    r3.Vector
	Orientation *mat.Dense

	Gains GainSet
}

// Goal-reached weighting. Velocity and acceleration terms dominate so the
// predicate only fires once the arm is genuinely at rest, not merely passing
// through the target.
const (
	goalWeightVelocity     = 100.0
	goalWeightPosition     = 10.0
	goalWeightAcceleration = 1000.0
	goalWeightOmega        = 1000.0
	goalWeightAlpha        = 1000.0
)

// GoalReached folds the snapshot's pose error and motion magnitudes into a
// single scalar and compares it against epsilon.
func GoalReached(snap RobotSnapshot, target r3.Vector, epsilon float64) bool {
	errNorm := goalWeightVelocity*snap.EEVelocity.Norm() +
		goalWeightPosition*snap.EEPosition.Sub(target).Norm() +
		goalWeightAcceleration*snap.EEAcceleration.Norm() +
		goalWeightOmega*snap.AngularVelocity.Norm() +
		goalWeightAlpha*snap.AngularAcceleration.Norm()
	return errNorm < epsilon
}

// jointErrorNorm is the aggregate joint-position error used by the approach
// convergence check.
func jointErrorNorm(q, target []float64) float64 {
	var sum float64
	for i := range q {
		d := q[i] - target[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// phaseSpec is one row of the phase-parameter table: how to build this
// phase's target and when to leave it.
type phaseSpec struct {
	gains  func(m *PhaseMachine) GainSet
	target func(m *PhaseMachine, t float64, snap RobotSnapshot) TargetCommand

	// transition returns the next phase and whether the predicate fired.
	// done marks the end of the EXECUTE cycle instead of a phase change.
	transition func(m *PhaseMachine, t float64, snap RobotSnapshot) (next Phase, fired, done bool)
}

// PhaseMachine owns the per-cycle trajectory window, the shot parameters,
// and the forward-only phase progression. It is reset by the mode supervisor
// at every WAIT->EXECUTE transition.
type PhaseMachine struct {
	cfg    *ControllerConfig
	traj   *TrajectoryGenerator
	logger logging.Logger

	window PhaseWindow
	shot   ShotParameters

	pivot      float64   // terminal-joint strike pivot, captured leaving APPROACH
	shotEntryQ []float64 // joint posture frozen when SHOT began
	shotStart  float64   // trajectory time at SHOT entry

	table map[Phase]phaseSpec
}

// NewPhaseMachine builds the machine over the calibrated trajectory.
func NewPhaseMachine(cfg *ControllerConfig, traj *TrajectoryGenerator, logger logging.Logger) *PhaseMachine {
	m := &PhaseMachine{
		cfg:    cfg,
		traj:   traj,
		logger: logger,
		window: cfg.Window(),
	}
	m.table = map[Phase]phaseSpec{
		PhaseApproach: {
			gains:      (*PhaseMachine).approachGains,
			target:     (*PhaseMachine).approachTarget,
			transition: (*PhaseMachine).approachDone,
		},
		PhaseTrack: {
			gains:      (*PhaseMachine).trackGains,
			target:     (*PhaseMachine).poseTarget,
			transition: (*PhaseMachine).trackDone,
		},
		PhaseShot: {
			gains:      (*PhaseMachine).shotGains,
			target:     (*PhaseMachine).shotTarget,
			transition: (*PhaseMachine).shotDone,
		},
		PhaseReturn: {
			gains:      (*PhaseMachine).returnGains,
			target:     (*PhaseMachine).poseTarget,
			transition: (*PhaseMachine).returnDone,
		},
	}
	return m
}

// Reset arms the machine for a fresh EXECUTE cycle with the given shot.
func (m *PhaseMachine) Reset(shot ShotParameters) {
	m.window = m.cfg.Window()
	m.shot = shot
	m.pivot = 0
	m.shotEntryQ = nil
	m.shotStart = 0
}

// Window exposes the current (possibly re-anchored) phase window.
func (m *PhaseMachine) Window() PhaseWindow { return m.window }

// Advance runs one tick of the state machine: evaluate the current phase's
// transition predicate, apply any transition side effects, then produce the
// target for the now-active phase. It returns the updated controller state,
// the command for the control stack, and whether the EXECUTE cycle finished.
func (m *PhaseMachine) Advance(state ControllerState, snap RobotSnapshot) (ControllerState, TargetCommand, bool) {
	t := state.PhaseTime

	spec := m.table[state.Phase]
	if next, fired, done := spec.transition(m, t, snap); done {
		cmd := spec.target(m, t, snap)
		cmd.Gains = spec.gains(m)
		return state, cmd, true
	} else if fired {
		m.onTransition(state.Phase, next, t, snap)
		state.Phase = next
		if next == PhaseTrack {
			// The trajectory clock starts when tracking begins.
			state.PhaseTime = 0
			state.Tick = 0
			t = 0
		}
		spec = m.table[next]
	}

	cmd := spec.target(m, t, snap)
	cmd.Gains = spec.gains(m)

	state.Tick++
	state.PhaseTime += 1.0 / m.cfg.LoopHz
	return state, cmd, false
}

// onTransition performs the per-boundary side effects: pivot capture, shot
// posture freeze, and the one-time t4 re-anchor.
func (m *PhaseMachine) onTransition(from, to Phase, t float64, snap RobotSnapshot) {
	switch {
	case from == PhaseApproach && to == PhaseTrack:
		m.pivot = snap.Q[len(snap.Q)-1]
		m.logger.Infof("Reached joint goal, tracking trajectory (pivot %.3f rad)", m.pivot)

	case from == PhaseTrack && to == PhaseShot:
		m.shotEntryQ = append([]float64(nil), snap.Q...)
		m.shotStart = t
		m.logger.Info("Shooting")

	case from == PhaseShot && to == PhaseReturn:
		// Re-anchor t4 to when the shot actually began so the return
		// predicate measures against the real shot timeline.
		m.window.T4 = m.shotStart + m.shot.ShotDuration
		m.logger.Info("Done shooting, returning home")
	}
}

func (m *PhaseMachine) approachTarget(_ float64, _ RobotSnapshot) TargetCommand {
	return TargetCommand{
		Law:         LawJoint,
		JointTarget: append([]float64(nil), m.cfg.ReadyPosture...),
	}
}

func (m *PhaseMachine) approachDone(_ float64, snap RobotSnapshot) (Phase, bool, bool) {
	if jointErrorNorm(snap.Q, m.cfg.ReadyPosture) < m.cfg.JointGoalTolerance {
		return PhaseTrack, true, false
	}
	return PhaseApproach, false, false
}

// poseTarget serves both TRACK and RETURN: the pose task follows the
// trajectory while the joint task holds the safe posture in the nullspace.
func (m *PhaseMachine) poseTarget(t float64, _ RobotSnapshot) TargetCommand {
	return TargetCommand{
		Law:         LawPose,
		JointTarget: append([]float64(nil), m.cfg.SafePosture...),
		Position:    m.traj.Position(m.window, t, m.shot),
		Orientation: m.traj.Orientation(m.window, t, m.shot),
	}
}

func (m *PhaseMachine) trackDone(t float64, _ RobotSnapshot) (Phase, bool, bool) {
	if t > m.window.T3 && t < m.window.T3+m.shot.ShotDuration {
		return PhaseShot, true, false
	}
	return PhaseTrack, false, false
}

// shotTarget freezes the entry posture and drives only the terminal joint:
// a short windup behind the pivot until t4, then the strike through it.
func (m *PhaseMachine) shotTarget(t float64, snap RobotSnapshot) TargetCommand {
	entry := m.shotEntryQ
	if entry == nil {
		entry = snap.Q
	}
	target := append([]float64(nil), entry...)
	last := len(target) - 1
	if t < m.window.T4 {
		target[last] = m.pivot + m.cfg.WindupOffset
	} else {
		target[last] = m.pivot + m.cfg.StrikeOffset
	}
	return TargetCommand{
		Law:         LawJoint,
		JointTarget: target,
	}
}

func (m *PhaseMachine) shotDone(t float64, _ RobotSnapshot) (Phase, bool, bool) {
	if t > m.window.T4+m.shot.ShotDuration {
		return PhaseReturn, true, false
	}
	return PhaseShot, false, false
}

func (m *PhaseMachine) returnDone(t float64, snap RobotSnapshot) (Phase, bool, bool) {
	if t > m.window.T4 && GoalReached(snap, m.traj.Home(), m.cfg.GoalEpsilon) {
		return PhaseReturn, false, true
	}
	return PhaseReturn, false, false
}

func (m *PhaseMachine) approachGains() GainSet {
	return m.gainSet(m.cfg.Gains.Approach)
}

func (m *PhaseMachine) trackGains() GainSet {
	return m.gainSet(m.cfg.Gains.Track)
}

func (m *PhaseMachine) returnGains() GainSet {
	return m.gainSet(m.cfg.Gains.Return)
}

// shotGains applies the flick saturation profile; the terminal-joint cap is
// slower for the degenerate straight strike.
func (m *PhaseMachine) shotGains() GainSet {
	gs := m.gainSet(m.cfg.Gains.Shot)
	sat := append([]float64(nil), gs.JointVelocitySaturation...)
	terminalCap := m.cfg.Gains.ShotTerminalCap
	if m.shot.Straight {
		terminalCap = m.cfg.Gains.StraightShotTerminalCap
	}
	sat[len(sat)-1] = terminalCap
	gs.JointVelocitySaturation = sat
	return gs
}

func (m *PhaseMachine) gainSet(pg PhaseGains) GainSet {
	return GainSet{
		JointKP:                 pg.JointKP,
		JointKV:                 pg.JointKV,
		PoseKP:                  pg.PoseKP,
		PoseKV:                  pg.PoseKV,
		JointVelocitySaturation: pg.JointVelocitySaturation,
		PoseLinearSaturation:    m.cfg.Gains.PoseLinearSaturation,
		PoseAngularSaturation:   m.cfg.Gains.PoseAngularSaturation,
	}
}
