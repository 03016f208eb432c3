package crokinole

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// taskInertiaRegularization is the diagonal bump applied to the task-space
// inertia when regularization is enabled.
const taskInertiaRegularization = 0.1

// TickWaiter paces the control loop. The production implementation wraps a
// wall-clock ticker; tests substitute one that returns immediately.
type TickWaiter interface {
	Wait(ctx context.Context) error
	Stop()
}

type intervalWaiter struct {
	ticker *time.Ticker
}

// NewIntervalWaiter returns a TickWaiter firing at the given rate.
func NewIntervalWaiter(hz float64) TickWaiter {
	return &intervalWaiter{ticker: time.NewTicker(time.Duration(float64(time.Second) / hz))}
}

func (w *intervalWaiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ticker.C:
		return nil
	}
}

func (w *intervalWaiter) Stop() { w.ticker.Stop() }

// immediateWaiter never blocks; tests use it to run the loop flat out.
type immediateWaiter struct{}

// NewImmediateWaiter returns a TickWaiter that fires on every call.
func NewImmediateWaiter() TickWaiter { return immediateWaiter{} }

func (immediateWaiter) Wait(ctx context.Context) error { return ctx.Err() }
func (immediateWaiter) Stop()                          {}

// LoopStatistics summarizes a finished control loop run.
type LoopStatistics struct {
	Ticks   uint64
	Elapsed time.Duration
}

// Rate is the achieved loop frequency in Hz.
func (s LoopStatistics) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Ticks) / s.Elapsed.Seconds()
}

// Controller ties the store, the kinematic model, the mode supervisor, and
// the safety monitor into the per-tick pipeline: sense, supervise, synthesize
// torques, inspect, publish.
type Controller struct {
	cfg        *ControllerConfig
	store      StateStore
	model      RobotModel
	supervisor *ModeSupervisor
	safety     *SafetyMonitor
	waiter     TickWaiter
	logger     logging.Logger

	state ControllerState
	stats LoopStatistics
}

// NewController assembles the full stack over an injected store, model, and
// tick source.
func NewController(cfg *ControllerConfig, store StateStore, model RobotModel, waiter TickWaiter, logger logging.Logger) *Controller {
	traj := NewTrajectoryGenerator(cfg)
	machine := NewPhaseMachine(cfg, traj, logger)
	return &Controller{
		cfg:        cfg,
		store:      store,
		model:      model,
		supervisor: NewModeSupervisor(cfg, machine, store, logger),
		safety:     NewSafetyMonitor(cfg.Limits, logger),
		waiter:     waiter,
		logger:     logger,
	}
}

// State returns the supervisory state after the most recent tick.
func (c *Controller) State() ControllerState { return c.state }

// Statistics returns the accumulated loop counters.
func (c *Controller) Statistics() LoopStatistics { return c.stats }

// Step runs one full controller tick. Store errors terminate the tick since
// a loop that cannot reach its store has no safe way to continue.
func (c *Controller) Step(ctx context.Context) error {
	q, err := c.store.ReadVector(ctx, c.cfg.Keys.JointAngles)
	if err != nil {
		return errors.Wrap(err, "reading joint angles")
	}
	dq, err := c.store.ReadVector(ctx, c.cfg.Keys.JointVelocities)
	if err != nil {
		return errors.Wrap(err, "reading joint velocities")
	}
	if len(q) != c.cfg.DOF || len(dq) != c.cfg.DOF {
		return errors.Errorf("expected %d-dof sensor vectors, got %d positions and %d velocities",
			c.cfg.DOF, len(q), len(dq))
	}

	// The hardware driver exports its own mass matrix; the simulator path
	// keeps the built-in approximation.
	if c.cfg.Keys.MassMatrix != "" {
		mm, err := c.store.ReadMatrix(ctx, c.cfg.Keys.MassMatrix)
		if err != nil {
			return errors.Wrap(err, "reading mass matrix")
		}
		c.model.SetMassMatrix(mm)
	}

	if err := c.model.Update(q, dq); err != nil {
		return errors.Wrap(err, "updating kinematic model")
	}
	snap := RobotSnapshot{
		Q:                   q,
		DQ:                  dq,
		EEPosition:          c.model.EEPosition(),
		EEVelocity:          c.model.EEVelocity(),
		EEAcceleration:      c.model.EEAcceleration(),
		AngularVelocity:     c.model.AngularVelocity(),
		AngularAcceleration: c.model.AngularAcceleration(),
	}

	state, cmd, err := c.supervisor.Tick(ctx, c.state, snap)
	if err != nil {
		return err
	}
	c.state = state

	tau, err := c.synthesize(cmd, q, dq)
	if err != nil {
		return err
	}

	if c.cfg.Keys.Coriolis != "" {
		coriolis, err := c.store.ReadVector(ctx, c.cfg.Keys.Coriolis)
		if err != nil {
			return errors.Wrap(err, "reading coriolis vector")
		}
		if len(coriolis) == len(tau) {
			tau = SumTorques(tau, coriolis)
		}
	}

	c.safety.Inspect(q, dq, tau)

	if err := c.store.WriteVector(ctx, c.cfg.Keys.TorquesCommanded, tau); err != nil {
		return errors.Wrap(err, "publishing torques")
	}
	c.stats.Ticks++
	return nil
}

// synthesize maps the supervisor's target command onto the task laws.
func (c *Controller) synthesize(cmd TargetCommand, q, dq []float64) ([]float64, error) {
	reg := 0.0
	if c.cfg.InertiaRegularization {
		reg = taskInertiaRegularization
	}

	switch cmd.Law {
	case LawJoint:
		return JointTaskTorques(c.model, q, dq, cmd.JointTarget, cmd.Gains, identityMatrix(c.cfg.DOF), reg)

	case LawPose:
		poseTau, nullspace, err := PoseTaskTorques(c.model, dq, cmd.Position, cmd.Orientation, cmd.Gains, reg)
		if err != nil {
			return nil, err
		}
		jointTau, err := JointTaskTorques(c.model, q, dq, cmd.JointTarget, cmd.Gains, nullspace, reg)
		if err != nil {
			return nil, err
		}
		return SumTorques(poseTau, jointTau), nil

	default:
		return nil, errors.Errorf("unknown control law %d", cmd.Law)
	}
}

// Run drives the tick pipeline at the configured rate until the context is
// canceled, then publishes a zero-torque command before returning. A tick
// error also terminates the loop; the zero publish still happens.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Infof("Starting control loop at %.0f Hz against %s (simulation=%t)",
		c.cfg.LoopHz, c.cfg.StoreAddress, c.cfg.Simulation)

	start := time.Now()
	var loopErr error
	for {
		if err := c.waiter.Wait(ctx); err != nil {
			break
		}
		if err := c.Step(ctx); err != nil {
			loopErr = err
			break
		}
	}
	c.stats.Elapsed = time.Since(start)

	// Best effort: the arm must not be left holding the last live command.
	zeroCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.store.WriteVector(zeroCtx, c.cfg.Keys.TorquesCommanded, ZeroTorques(c.cfg.DOF)); err != nil {
		c.logger.Warnf("failed to publish zero torques on shutdown: %v", err)
	}

	c.logger.Infof("Controller loop ran %d ticks in %.2f s (%.1f Hz)",
		c.stats.Ticks, c.stats.Elapsed.Seconds(), c.stats.Rate())
	return loopErr
}
