package crokinole

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestParseShotParameters(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("millimeter pair and radian angle", func(t *testing.T) {
		shot, err := ParseShotParameters("100,50", "1.5708", cfg)
		require.NoError(t, err)

		assert.InDelta(t, 0.1, shot.DropOff.X, 1e-12)
		assert.InDelta(t, 0.05, shot.DropOff.Y, 1e-12)
		assert.InDelta(t, 1.5708, shot.StrikeAngle, 1e-12)
		assert.True(t, shot.Straight, "psi within 1e-3 of pi/2 is a straight strike")
		assert.Greater(t, shot.ShotDuration, 0.0)
	})

	t.Run("derived flick parameters", func(t *testing.T) {
		shot, err := ParseShotParameters("0,0", "0.5", cfg)
		require.NoError(t, err)

		assert.False(t, shot.Straight)
		assert.InDelta(t, cfg.SwingAngle/2, shot.SwingAmplitude, 1e-12)
		wantDuration := FlickDuration(cfg.SwingAngle, cfg.HitVelocity, cfg.EELength)
		assert.InDelta(t, wantDuration, shot.ShotDuration, 1e-12)
	})

	t.Run("negative coordinates and whitespace", func(t *testing.T) {
		shot, err := ParseShotParameters(" -30 , 12.5 ", " 0.25 ", cfg)
		require.NoError(t, err)
		assert.InDelta(t, -0.03, shot.DropOff.X, 1e-12)
		assert.InDelta(t, 0.0125, shot.DropOff.Y, 1e-12)
	})

	t.Run("malformed input is rejected", func(t *testing.T) {
		cases := []struct {
			name, pos, angle string
		}{
			{"no comma", "100;50", "1.5708"},
			{"bad x", "abc,50", "1.5708"},
			{"bad y", "100,", "1.5708"},
			{"bad angle", "100,50", "quarter"},
			{"empty", "", ""},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := ParseShotParameters(tc.pos, tc.angle, cfg)
				assert.Error(t, err)
			})
		}
	})
}

func newTestSupervisor(t *testing.T, cfg *ControllerConfig, store StateStore) *ModeSupervisor {
	t.Helper()
	logger := logging.NewTestLogger(t)
	traj := NewTrajectoryGenerator(cfg)
	machine := NewPhaseMachine(cfg, traj, logger)
	return NewModeSupervisor(cfg, machine, store, logger)
}

func TestSupervisorWaitMode(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Simulation = true
	cfg.Keys = SimulationStoreKeys

	posture := []float64{0.1, -0.4, 0.3, -1.6, 1.5, 2.1, -0.3}
	snap := restingSnapshot(posture, r3.Vector{X: 0.3, Y: 0.3, Z: 0.4})

	t.Run("holds the first observed posture", func(t *testing.T) {
		store := NewMemoryStore()
		s := newTestSupervisor(t, cfg, store)

		state, cmd, err := s.Tick(ctx, ControllerState{}, snap)
		if err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		if state.Mode != ModeWait {
			t.Fatalf("mode = %v, want WAIT", state.Mode)
		}
		if cmd.Law != LawJoint {
			t.Errorf("wait law = %v, want LawJoint", cmd.Law)
		}
		for i := range posture {
			if cmd.JointTarget[i] != posture[i] {
				t.Fatalf("hold target %v does not match first posture %v", cmd.JointTarget, posture)
			}
		}

		// A different posture on later ticks must not move the hold target.
		drifted := restingSnapshot([]float64{1, 1, 1, 1, 1, 1, 1}, r3.Vector{})
		_, cmd, err = s.Tick(ctx, state, drifted)
		if err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		if cmd.JointTarget[0] != posture[0] {
			t.Error("hold target drifted with the measured posture")
		}
	})

	t.Run("only the exact activation token fires", func(t *testing.T) {
		for _, token := range []string{"", "Execute", "EXECUTE", "executing", "exec", "wait"} {
			store := NewMemoryStore()
			require.NoError(t, store.WriteString(ctx, cfg.Keys.ModeChange, token))
			s := newTestSupervisor(t, cfg, store)

			state, _, err := s.Tick(ctx, ControllerState{}, snap)
			require.NoError(t, err)
			assert.Equal(t, ModeWait, state.Mode, "token %q must not activate", token)
		}
	})

	t.Run("activation reads shot parameters and enters execute", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.WriteString(ctx, cfg.Keys.ModeChange, TokenExecute))
		require.NoError(t, store.WriteString(ctx, cfg.Keys.ShotPos, "100,50"))
		require.NoError(t, store.WriteString(ctx, cfg.Keys.ShotAngle, "1.5708"))
		s := newTestSupervisor(t, cfg, store)

		state, _, err := s.Tick(ctx, ControllerState{}, snap)
		require.NoError(t, err)
		assert.Equal(t, ModeExecute, state.Mode)
		assert.Equal(t, PhaseApproach, state.Phase)
		assert.True(t, s.machine.shot.Straight)
	})

	t.Run("malformed shot parameters abort the tick", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.WriteString(ctx, cfg.Keys.ModeChange, TokenExecute))
		require.NoError(t, store.WriteString(ctx, cfg.Keys.ShotPos, "not-a-pair"))
		require.NoError(t, store.WriteString(ctx, cfg.Keys.ShotAngle, "1.5708"))
		s := newTestSupervisor(t, cfg, store)

		_, _, err := s.Tick(ctx, ControllerState{}, snap)
		assert.Error(t, err)
	})
}

// TestSupervisorFullCycle drives an entire strike end to end: activation,
// all four phases, and the handback to WAIT with the token rewritten.
func TestSupervisorFullCycle(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Simulation = true
	cfg.Keys = SimulationStoreKeys

	store := NewMemoryStore()
	require.NoError(t, store.WriteString(ctx, cfg.Keys.ModeChange, TokenExecute))
	require.NoError(t, store.WriteString(ctx, cfg.Keys.ShotPos, "100,50"))
	require.NoError(t, store.WriteString(ctx, cfg.Keys.ShotAngle, "1.5708"))

	logger := logging.NewTestLogger(t)
	traj := NewTrajectoryGenerator(cfg)
	machine := NewPhaseMachine(cfg, traj, logger)
	s := NewModeSupervisor(cfg, machine, store, logger)

	state := ControllerState{}
	farFromHome := r3.Vector{X: 1, Y: 1, Z: 1}
	sawExecute := false

	for tick := 0; tick < 40000; tick++ {
		var snap RobotSnapshot
		if state.Mode == ModeExecute && state.Phase == PhaseReturn {
			snap = restingSnapshot(cfg.SafePosture, traj.Home())
		} else {
			snap = restingSnapshot(cfg.ReadyPosture, farFromHome)
		}

		var err error
		state, _, err = s.Tick(ctx, state, snap)
		require.NoError(t, err)

		if state.Mode == ModeExecute {
			sawExecute = true
		}
		if sawExecute && state.Mode == ModeWait {
			break
		}
	}

	require.True(t, sawExecute, "supervisor never activated")
	require.Equal(t, ModeWait, state.Mode, "cycle never completed")
	assert.Equal(t, PhaseApproach, state.Phase)

	token, err := store.ReadString(ctx, cfg.Keys.ModeChange)
	require.NoError(t, err)
	assert.Equal(t, TokenWait, token, "completion must rewrite the activation token")

	// Re-activating runs a second cycle from a clean phase machine.
	require.NoError(t, store.WriteString(ctx, cfg.Keys.ModeChange, TokenExecute))
	state, _, err = s.Tick(ctx, state, restingSnapshot(cfg.ReadyPosture, farFromHome))
	require.NoError(t, err)
	assert.Equal(t, ModeExecute, state.Mode)
	assert.InDelta(t, cfg.PhaseBoundaries[4], machine.Window().T4, 1e-9,
		"reset must restore the configured window")
}

func TestFlickProfileHelpers(t *testing.T) {
	const (
		pivot = -0.33
		swing = 120 * math.Pi / 180
		rate  = 1.5
	)
	a := swing / 2

	t.Run("starts at the top of the swing at rest", func(t *testing.T) {
		angle := SinusoidalFlickAngle(rate, 0, pivot, swing)
		if math.Abs(angle-(pivot+a)) > 1e-9 {
			t.Errorf("angle(0) = %.4f, want %.4f", angle, pivot+a)
		}
		vel := SinusoidalFlickVelocity(rate, 0, pivot, swing)
		if math.Abs(vel) > 1e-9 {
			t.Errorf("velocity(0) = %.4f, want 0", vel)
		}
	})

	t.Run("peak speed at the pivot crossing", func(t *testing.T) {
		w := rate / a
		tQuarter := (math.Pi / 2) / w
		angle := SinusoidalFlickAngle(rate, tQuarter, pivot, swing)
		if math.Abs(angle-pivot) > 1e-9 {
			t.Errorf("angle at crossing = %.4f, want pivot %.4f", angle, pivot)
		}
		vel := SinusoidalFlickVelocity(rate, tQuarter, pivot, swing)
		if math.Abs(math.Abs(vel)-rate) > 1e-9 {
			t.Errorf("speed at crossing = %.4f, want %.4f", math.Abs(vel), rate)
		}
	})
}
