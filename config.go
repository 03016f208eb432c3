package crokinole

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"go.viam.com/rdk/logging"
)

// StoreKeys names every key the controller exchanges with the external state
// store. Two families exist: the simulator publishes under the cs225a
// namespace and the controller computes model terms locally; the hardware
// driver publishes under the FrankaPanda namespace and exports precomputed
// model terms.
type StoreKeys struct {
	JointAngles        string `json:"joint_angles"`
	JointVelocities    string `json:"joint_velocities"`
	JointTorquesSensed string `json:"joint_torques_sensed,omitempty"`
	TorquesCommanded   string `json:"torques_commanded"`

	MassMatrix string `json:"mass_matrix,omitempty"`
	Coriolis   string `json:"coriolis,omitempty"`
	Gravity    string `json:"gravity,omitempty"`

	ModeChange string `json:"mode_change"`
	ShotAngle  string `json:"shot_angle"`
	ShotPos    string `json:"shot_pos"`
}

// SimulationStoreKeys is the key family used against the dynamics simulator.
var SimulationStoreKeys = StoreKeys{
	JointAngles:      "sai2::cs225a::panda_robot::sensors::q",
	JointVelocities:  "sai2::cs225a::panda_robot::sensors::dq",
	TorquesCommanded: "sai2::cs225a::panda_robot::actuators::fgc",
	ModeChange:       "modechange",
	ShotAngle:        "shotangle",
	ShotPos:          "shotpos",
}

// HardwareStoreKeys is the key family used against the real robot driver.
var HardwareStoreKeys = StoreKeys{
	JointAngles:        "sai2::FrankaPanda::sensors::q",
	JointVelocities:    "sai2::FrankaPanda::sensors::dq",
	JointTorquesSensed: "sai2::FrankaPanda::sensors::torques",
	TorquesCommanded:   "sai2::FrankaPanda::actuators::fgc",
	MassMatrix:         "sai2::FrankaPanda::sensors::model::massmatrix",
	Coriolis:           "sai2::FrankaPanda::sensors::model::coriolis",
	Gravity:            "sai2::FrankaPanda::sensors::model::robot_gravity",
	ModeChange:         "modechange",
	ShotAngle:          "shotangle",
	ShotPos:            "shotpos",
}

// PhaseGains configures one phase's gain set.
type PhaseGains struct {
	JointKP float64 `json:"joint_kp"`
	JointKV float64 `json:"joint_kv"`
	PoseKP  float64 `json:"pose_kp,omitempty"`
	PoseKV  float64 `json:"pose_kv,omitempty"`

	JointVelocitySaturation []float64 `json:"joint_velocity_saturation,omitempty"`
}

// GainSchedule holds one gain set per phase plus the saturation profile
// shared by the pose task.
type GainSchedule struct {
	Approach PhaseGains `json:"approach"`
	Track    PhaseGains `json:"track"`
	Shot     PhaseGains `json:"shot"`
	Return   PhaseGains `json:"return"`

	// Terminal-joint velocity caps for the flick. The straight (degenerate)
	// strike gets the slower cap.
	ShotTerminalCap         float64 `json:"shot_terminal_cap"`
	StraightShotTerminalCap float64 `json:"straight_shot_terminal_cap"`

	PoseLinearSaturation  float64 `json:"pose_linear_saturation"`
	PoseAngularSaturation float64 `json:"pose_angular_saturation"`
}

// SafetyLimits are the static per-joint soft bounds. Never mutated at
// runtime.
type SafetyLimits struct {
	PositionMax []float64 `json:"position_max"`
	PositionMin []float64 `json:"position_min"`
	Velocity    []float64 `json:"velocity"`
	Torque      []float64 `json:"torque"`
}

// ControllerConfig is the single immutable configuration record loaded at
// startup. Every calibration constant the controller needs lives here so the
// core stays testable with injected fixtures instead of compiled-in numbers.
type ControllerConfig struct {
	StoreAddress string `json:"store_address,omitempty"`
	Simulation   bool   `json:"simulation,omitempty"`

	LoopHz float64 `json:"loop_hz,omitempty"`
	DOF    int     `json:"dof,omitempty"`

	// Trajectory timeline boundaries t0..t4, seconds.
	PhaseBoundaries []float64 `json:"phase_boundaries,omitempty"`

	// Board geometry, robot frame, meters.
	BoardRadius float64    `json:"board_radius,omitempty"`
	BoardOffset [3]float64 `json:"board_offset,omitempty"`
	PickupAngle float64    `json:"pickup_angle,omitempty"`
	GatherYaw   float64    `json:"gather_yaw,omitempty"`
	HomePoint   [3]float64 `json:"home_point,omitempty"`

	// Row-major 3x3 end-effector orientation at home.
	HomeOrientation [9]float64 `json:"home_orientation,omitempty"`

	// Flick geometry and timing.
	EELength     float64   `json:"ee_length,omitempty"`     // m, pivot to cue tip
	HitVelocity  float64   `json:"hit_velocity,omitempty"`  // m/s at cue tip
	SwingAngle   float64   `json:"swing_angle,omitempty"`   // rad
	StraightTol  float64   `json:"straight_tol,omitempty"`  // rad about pi/2
	WindupOffset float64   `json:"windup_offset,omitempty"` // rad, pre-strike backswing
	StrikeOffset float64   `json:"strike_offset,omitempty"` // rad, follow-through target
	ReadyPosture []float64 `json:"ready_posture,omitempty"`
	SafePosture  []float64 `json:"safe_posture,omitempty"`

	// Convergence thresholds. GoalEpsilon is deployment-specific tuning:
	// observed rigs run values three orders of magnitude apart.
	GoalEpsilon        float64 `json:"goal_epsilon,omitempty"`
	JointGoalTolerance float64 `json:"joint_goal_tolerance,omitempty"`

	InertiaRegularization bool `json:"inertia_regularization"`

	Gains  GainSchedule `json:"gains,omitempty"`
	Limits SafetyLimits `json:"limits,omitempty"`
	Keys   StoreKeys    `json:"keys,omitempty"`
}

// DefaultConfig returns the hardware-rig calibration the controller ships
// with.
func DefaultConfig() *ControllerConfig {
	cfg := &ControllerConfig{InertiaRegularization: true}
	if err := cfg.Validate(); err != nil {
		// Defaults are internally consistent; a failure here is a bug.
		panic(err)
	}
	return cfg
}

// Validate fills defaults and checks internal consistency.
func (cfg *ControllerConfig) Validate() error {
	if cfg.StoreAddress == "" {
		cfg.StoreAddress = "localhost:6379"
	}
	if cfg.LoopHz == 0 {
		cfg.LoopHz = 1000
	}
	if cfg.DOF == 0 {
		cfg.DOF = 7
	}
	if len(cfg.PhaseBoundaries) == 0 {
		cfg.PhaseBoundaries = []float64{0, 4, 8, 12, 13}
	}
	if len(cfg.PhaseBoundaries) != 5 {
		return fmt.Errorf("expected 5 phase boundaries, got %d", len(cfg.PhaseBoundaries))
	}
	if _, err := NewPhaseWindow(
		cfg.PhaseBoundaries[0], cfg.PhaseBoundaries[1], cfg.PhaseBoundaries[2],
		cfg.PhaseBoundaries[3], cfg.PhaseBoundaries[4]); err != nil {
		return err
	}

	if cfg.BoardRadius == 0 {
		cfg.BoardRadius = 20.125 / 2 * 0.0254 // 20.125 in board diameter
	}
	if cfg.BoardOffset == [3]float64{} {
		cfg.BoardOffset = [3]float64{0.7385, 0.1070 + 0.035, 0.3120}
	}
	if cfg.PickupAngle == 0 {
		cfg.PickupAngle = -math.Pi / 4
	}
	if cfg.GatherYaw == 0 {
		cfg.GatherYaw = -math.Pi / 4
	}
	if cfg.HomePoint == [3]float64{} {
		cfg.HomePoint = [3]float64{0.2859, 0.2787, 0.4300}
	}
	if cfg.HomeOrientation == [9]float64{} {
		cfg.HomeOrientation = [9]float64{
			0.7360145, 0.6763110, 0.0297644,
			-0.0413102, 0.0009846, 0.9991459,
			0.6757041, -0.7366155, 0.0286632,
		}
	}

	if cfg.EELength == 0 {
		cfg.EELength = 17.70 * 0.0254
	}
	if cfg.HitVelocity == 0 {
		cfg.HitVelocity = 0.724 // ~1.3 s flick with the default swing
	}
	if cfg.SwingAngle == 0 {
		cfg.SwingAngle = 120 * math.Pi / 180
	}
	if cfg.StraightTol == 0 {
		cfg.StraightTol = 1e-3
	}
	if cfg.WindupOffset == 0 {
		cfg.WindupOffset = math.Pi / 24
	}
	if cfg.StrikeOffset == 0 {
		cfg.StrikeOffset = -math.Pi / 4
	}
	if len(cfg.ReadyPosture) == 0 {
		cfg.ReadyPosture = []float64{0.004, -0.44, 0.315, -1.63, 1.53, 2.15, -0.33}
	}
	if len(cfg.SafePosture) == 0 {
		cfg.SafePosture = []float64{0.0, 0.0, 0.0, -1.6, 0.0, 1.9, 0.0}
	}
	if len(cfg.ReadyPosture) != cfg.DOF || len(cfg.SafePosture) != cfg.DOF {
		return fmt.Errorf("posture vectors must have %d entries", cfg.DOF)
	}

	if cfg.GoalEpsilon == 0 {
		cfg.GoalEpsilon = 3.0
	}
	if cfg.JointGoalTolerance == 0 {
		cfg.JointGoalTolerance = 0.15
	}

	cfg.fillGains()
	if err := cfg.checkLimits(); err != nil {
		return err
	}

	if cfg.Keys == (StoreKeys{}) {
		if cfg.Simulation {
			cfg.Keys = SimulationStoreKeys
		} else {
			cfg.Keys = HardwareStoreKeys
		}
	}
	return nil
}

func (cfg *ControllerConfig) fillGains() {
	g := &cfg.Gains
	if g.Approach.JointKP == 0 {
		g.Approach = PhaseGains{JointKP: 250, JointKV: 20}
	}
	if g.Track.JointKP == 0 {
		g.Track = PhaseGains{JointKP: 300, JointKV: 25, PoseKP: 400, PoseKV: 25}
	}
	if g.Shot.JointKP == 0 {
		g.Shot = PhaseGains{JointKP: 400, JointKV: 25}
	}
	if g.Return.JointKP == 0 {
		g.Return = PhaseGains{JointKP: 200, JointKV: 20, PoseKP: 200, PoseKV: 20}
	}
	if len(g.Approach.JointVelocitySaturation) == 0 {
		g.Approach.JointVelocitySaturation = uniformSaturation(cfg.DOF, math.Pi/3)
	}
	if len(g.Track.JointVelocitySaturation) == 0 {
		g.Track.JointVelocitySaturation = uniformSaturation(cfg.DOF, math.Pi/3)
	}
	if len(g.Shot.JointVelocitySaturation) == 0 {
		// Wrist joints get more headroom during the flick.
		sat := uniformSaturation(cfg.DOF, math.Pi/3)
		for i := 4; i < cfg.DOF-1; i++ {
			sat[i] = math.Pi / 2
		}
		g.Shot.JointVelocitySaturation = sat
	}
	if len(g.Return.JointVelocitySaturation) == 0 {
		g.Return.JointVelocitySaturation = uniformSaturation(cfg.DOF, math.Pi/4)
	}
	if g.ShotTerminalCap == 0 {
		g.ShotTerminalCap = 3.0
	}
	if g.StraightShotTerminalCap == 0 {
		g.StraightShotTerminalCap = 2.33
	}
	if g.PoseLinearSaturation == 0 {
		g.PoseLinearSaturation = 0.3
	}
	if g.PoseAngularSaturation == 0 {
		g.PoseAngularSaturation = math.Pi / 3
	}
}

func (cfg *ControllerConfig) checkLimits() error {
	l := &cfg.Limits
	if len(l.PositionMax) == 0 {
		l.PositionMax = []float64{2.7, 1.6, 2.7, -0.2, 2.7, 3.6, 2.7}
	}
	if len(l.PositionMin) == 0 {
		l.PositionMin = []float64{-2.7, -1.6, -2.7, -3.0, -2.7, 0.2, -2.7}
	}
	if len(l.Velocity) == 0 {
		l.Velocity = []float64{2.0, 2.0, 2.0, 2.0, 2.5, 2.5, 2.5}
	}
	if len(l.Torque) == 0 {
		l.Torque = []float64{85, 85, 85, 85, 10, 10, 10}
	}
	for name, v := range map[string][]float64{
		"position_max": l.PositionMax,
		"position_min": l.PositionMin,
		"velocity":     l.Velocity,
		"torque":       l.Torque,
	} {
		if len(v) != cfg.DOF {
			return fmt.Errorf("limit %s must have %d entries, got %d", name, cfg.DOF, len(v))
		}
	}
	return nil
}

func uniformSaturation(dof int, v float64) []float64 {
	sat := make([]float64, dof)
	for i := range sat {
		sat[i] = v
	}
	return sat
}

// Window returns the configured phase window. Validation already enforced
// the ordering invariant.
func (cfg *ControllerConfig) Window() PhaseWindow {
	b := cfg.PhaseBoundaries
	return PhaseWindow{T0: b[0], T1: b[1], T2: b[2], T3: b[3], T4: b[4]}
}

// LoadConfig loads configuration from a JSON file, falling back to the
// compiled defaults when no path is given or the file cannot be used.
// Returns (config, fromFile).
func LoadConfig(path string, logger logging.Logger) (*ControllerConfig, bool) {
	if path == "" {
		if logger != nil {
			logger.Debug("No config file specified, using default calibration")
		}
		return DefaultConfig(), false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if logger != nil {
			logger.Warnf("Failed to read config from %s: %v, using default calibration", path, err)
		}
		return DefaultConfig(), false
	}

	cfg := &ControllerConfig{InertiaRegularization: true}
	if err := json.Unmarshal(data, cfg); err != nil {
		if logger != nil {
			logger.Warnf("Failed to parse config %s: %v, using default calibration", path, err)
		}
		return DefaultConfig(), false
	}
	if err := cfg.Validate(); err != nil {
		if logger != nil {
			logger.Warnf("Config %s failed validation: %v, using default calibration", path, err)
		}
		return DefaultConfig(), false
	}

	if logger != nil {
		logger.Infof("Successfully loaded config from %s", path)
	}
	return cfg, true
}
