package crokinole

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Activation protocol tokens. Matching is exact: partial or case-mismatched
// values are ignored, not treated as transitions.
const (
	TokenExecute = "execute"
	TokenWait    = "wait"
)

// ParseShotParameters builds the per-cycle shot record from the externally
// supplied strings: the drop-off as a comma-delimited millimeter pair and
// the strike angle as a radian value. There is no recovery path for
// malformed input, so parse failures are returned for the caller to abort
// on.
func ParseShotParameters(posStr, angleStr string, cfg *ControllerConfig) (ShotParameters, error) {
	xs, ys, found := strings.Cut(posStr, ",")
	if !found {
		return ShotParameters{}, errors.Errorf("shot position %q is not a comma-delimited pair", posStr)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return ShotParameters{}, errors.Wrapf(err, "parsing shot position x from %q", posStr)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return ShotParameters{}, errors.Wrapf(err, "parsing shot position y from %q", posStr)
	}

	psi, err := strconv.ParseFloat(strings.TrimSpace(angleStr), 64)
	if err != nil {
		return ShotParameters{}, errors.Wrapf(err, "parsing strike angle from %q", angleStr)
	}

	amplitude := cfg.SwingAngle / 2.0
	angularVelocity := cfg.HitVelocity / cfg.EELength

	return ShotParameters{
		DropOff:        r3.Vector{X: x * 0.001, Y: y * 0.001}, // mm to m
		StrikeAngle:    psi,
		SwingAmplitude: amplitude,
		AngularRate:    angularVelocity / amplitude,
		ShotDuration:   FlickDuration(cfg.SwingAngle, cfg.HitVelocity, cfg.EELength),
		Straight:       math.Abs(psi-math.Pi/2) <= cfg.StraightTol,
	}, nil
}

// ModeSupervisor is the top-level WAIT/EXECUTE gate. In WAIT it holds the
// captured posture and polls the activation token; on activation it captures
// shot parameters, resets the phase machine, and hands ticks to it until the
// cycle completes. It is the only component that writes non-torque keys to
// the external store.
type ModeSupervisor struct {
	cfg     *ControllerConfig
	machine *PhaseMachine
	store   StateStore
	logger  logging.Logger

	holdTarget []float64
}

// NewModeSupervisor wires the supervisor over the phase machine and store.
func NewModeSupervisor(cfg *ControllerConfig, machine *PhaseMachine, store StateStore, logger logging.Logger) *ModeSupervisor {
	return &ModeSupervisor{cfg: cfg, machine: machine, store: store, logger: logger}
}

// Tick runs one supervisory step and returns the updated state plus the
// target the control stack should track this tick.
func (s *ModeSupervisor) Tick(ctx context.Context, state ControllerState, snap RobotSnapshot) (ControllerState, TargetCommand, error) {
	if state.Mode == ModeWait {
		return s.tickWait(ctx, state, snap)
	}
	return s.tickExecute(ctx, state, snap)
}

func (s *ModeSupervisor) tickWait(ctx context.Context, state ControllerState, snap RobotSnapshot) (ControllerState, TargetCommand, error) {
	if s.holdTarget == nil {
		// First tick: hold wherever the arm currently is.
		s.holdTarget = append([]float64(nil), snap.Q...)
	}
	cmd := TargetCommand{
		Law:         LawJoint,
		JointTarget: append([]float64(nil), s.holdTarget...),
		Gains:       s.machine.gainSet(s.cfg.Gains.Approach),
	}

	token, err := s.store.ReadString(ctx, s.cfg.Keys.ModeChange)
	if err != nil {
		return state, cmd, errors.Wrap(err, "reading activation token")
	}
	if token != TokenExecute {
		return state, cmd, nil
	}

	posStr, err := s.store.ReadString(ctx, s.cfg.Keys.ShotPos)
	if err != nil {
		return state, cmd, errors.Wrap(err, "reading shot position")
	}
	angleStr, err := s.store.ReadString(ctx, s.cfg.Keys.ShotAngle)
	if err != nil {
		return state, cmd, errors.Wrap(err, "reading strike angle")
	}

	shot, err := ParseShotParameters(posStr, angleStr, s.cfg)
	if err != nil {
		// Malformed shot parameters are abort-worthy: nothing validates
		// them upstream and the cycle cannot run without them.
		return state, cmd, errors.Wrap(err, "invalid shot parameters")
	}

	s.logger.Infof("Going into EXECUTE_MODE: drop-off (%.3f, %.3f) m, psi %.4f rad, straight=%t, flick %.2f s",
		shot.DropOff.X, shot.DropOff.Y, shot.StrikeAngle, shot.Straight, shot.ShotDuration)

	s.machine.Reset(shot)
	state.Mode = ModeExecute
	state.Phase = PhaseApproach
	state.Tick = 0
	state.PhaseTime = 0
	return state, cmd, nil
}

func (s *ModeSupervisor) tickExecute(ctx context.Context, state ControllerState, snap RobotSnapshot) (ControllerState, TargetCommand, error) {
	state, cmd, done := s.machine.Advance(state, snap)
	if !done {
		return state, cmd, nil
	}

	s.logger.Info("Reached final goal")
	s.logger.Info("Going into WAIT_MODE")

	if err := s.store.WriteString(ctx, s.cfg.Keys.ModeChange, TokenWait); err != nil {
		return state, cmd, errors.Wrap(err, "writing wait token")
	}

	// Park on the ready posture until the next activation.
	s.holdTarget = append([]float64(nil), s.cfg.ReadyPosture...)
	state.Mode = ModeWait
	state.Phase = PhaseApproach
	state.Tick = 0
	state.PhaseTime = 0
	return state, cmd, nil
}
