package crokinole

import (
	_ "embed"
	"encoding/json"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

//go:embed panda_arm.json
var pandaModelJSON []byte

// RobotModel is the kinematic/dynamic view of the arm the control stack
// reads after each update. Implementations refresh all end-effector
// quantities from one (q, dq) sample per tick.
type RobotModel interface {
	DOF() int

	// Update runs the kinematic update for this tick's joint sample.
	Update(q, dq []float64) error

	// SetMassMatrix installs a precomputed mass matrix (hardware
	// deployments read it from the store; the simulator path keeps the
	// built-in approximation).
	SetMassMatrix(m *mat.Dense)
	MassMatrix() *mat.Dense

	// Jacobian is 6xDOF: linear rows first, angular rows last.
	Jacobian() *mat.Dense

	EEPosition() r3.Vector
	EEOrientation() *mat.Dense
	EEVelocity() r3.Vector
	EEAcceleration() r3.Vector
	AngularVelocity() r3.Vector
	AngularAcceleration() r3.Vector
}

// pandaModel computes forward kinematics through the embedded kinematic
// description and differentiates it numerically for the Jacobian.
// Accelerations come from finite-differencing consecutive velocity samples
// at the loop rate.
type pandaModel struct {
	frame referenceframe.Model
	dof   int
	dt    float64

	massMatrix *mat.Dense

	position    r3.Vector
	orientation *mat.Dense
	jacobian    *mat.Dense

	velocity r3.Vector
	omega    r3.Vector
	accel    r3.Vector
	alpha    r3.Vector

	havePrev     bool
	prevVelocity r3.Vector
	prevOmega    r3.Vector
}

// jacobianStep is the joint perturbation used for the numeric Jacobian.
const jacobianStep = 1e-6

// NewPandaModel parses the embedded kinematics the same way the arm module
// loads its model file.
func NewPandaModel(cfg *ControllerConfig) (RobotModel, error) {
	if len(pandaModelJSON) == 0 {
		return nil, errors.New("no embedded panda_arm.json kinematic model found")
	}
	m := &referenceframe.ModelConfig{
		OriginalFile: &referenceframe.ModelFile{
			Bytes:     pandaModelJSON,
			Extension: "json",
		},
	}
	if err := json.Unmarshal(pandaModelJSON, m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal kinematic model json")
	}
	frame, err := m.ParseConfig("panda_arm")
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse kinematic model")
	}

	return &pandaModel{
		frame:       frame,
		dof:         cfg.DOF,
		dt:          1.0 / cfg.LoopHz,
		massMatrix:  defaultInertia(cfg.DOF),
		orientation: mat.NewDense(3, 3, nil),
		jacobian:    mat.NewDense(6, cfg.DOF, nil),
	}, nil
}

// defaultInertia is the simulator-path mass matrix approximation: a constant
// diagonal dominated by the proximal joints.
func defaultInertia(dof int) *mat.Dense {
	diag := []float64{1.2, 1.2, 1.0, 1.0, 0.5, 0.3, 0.1}
	m := mat.NewDense(dof, dof, nil)
	for i := 0; i < dof; i++ {
		v := 0.1
		if i < len(diag) {
			v = diag[i]
		}
		m.Set(i, i, v)
	}
	return m
}

func (m *pandaModel) DOF() int { return m.dof }

func (m *pandaModel) Update(q, dq []float64) error {
	if len(q) != m.dof || len(dq) != m.dof {
		return errors.Errorf("expected %d joint values, got %d positions and %d velocities",
			m.dof, len(q), len(dq))
	}

	pose, err := m.poseAt(q)
	if err != nil {
		return err
	}
	m.position = pointMeters(pose)
	rm := pose.Orientation().RotationMatrix()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.orientation.Set(i, j, rm.At(i, j))
		}
	}

	if err := m.updateJacobian(q, pose); err != nil {
		return err
	}

	// Twist from the Jacobian, accelerations by finite difference.
	var v, w r3.Vector
	for j := 0; j < m.dof; j++ {
		v.X += m.jacobian.At(0, j) * dq[j]
		v.Y += m.jacobian.At(1, j) * dq[j]
		v.Z += m.jacobian.At(2, j) * dq[j]
		w.X += m.jacobian.At(3, j) * dq[j]
		w.Y += m.jacobian.At(4, j) * dq[j]
		w.Z += m.jacobian.At(5, j) * dq[j]
	}
	if m.havePrev {
		m.accel = v.Sub(m.prevVelocity).Mul(1.0 / m.dt)
		m.alpha = w.Sub(m.prevOmega).Mul(1.0 / m.dt)
	}
	m.velocity, m.omega = v, w
	m.prevVelocity, m.prevOmega = v, w
	m.havePrev = true
	return nil
}

func (m *pandaModel) poseAt(q []float64) (spatialmath.Pose, error) {
	inputs := referenceframe.FloatsToInputs(q)
	pose, err := referenceframe.ComputeOOBPosition(m.frame, inputs)
	if err != nil {
		return nil, errors.Wrap(err, "forward kinematics failed")
	}
	return pose, nil
}

// updateJacobian differentiates the forward kinematics column by column.
func (m *pandaModel) updateJacobian(q []float64, pose spatialmath.Pose) error {
	p0 := pointMeters(pose)
	r0 := pose.Orientation().RotationMatrix()

	perturbed := append([]float64(nil), q...)
	for j := 0; j < m.dof; j++ {
		perturbed[j] = q[j] + jacobianStep
		poseJ, err := m.poseAt(perturbed)
		if err != nil {
			return err
		}
		perturbed[j] = q[j]

		pj := pointMeters(poseJ)
		m.jacobian.Set(0, j, (pj.X-p0.X)/jacobianStep)
		m.jacobian.Set(1, j, (pj.Y-p0.Y)/jacobianStep)
		m.jacobian.Set(2, j, (pj.Z-p0.Z)/jacobianStep)

		// Angular columns from the skew part of dR * R0^T.
		rj := poseJ.Orientation().RotationMatrix()
		wx, wy, wz := angularDelta(rj, r0)
		m.jacobian.Set(3, j, wx/jacobianStep)
		m.jacobian.Set(4, j, wy/jacobianStep)
		m.jacobian.Set(5, j, wz/jacobianStep)
	}
	return nil
}

// angularDelta extracts the small rotation vector taking r0 to rj.
func angularDelta(rj, r0 *spatialmath.RotationMatrix) (float64, float64, float64) {
	// d = rj * r0^T; for small rotations d ~ I + skew(w).
	var d [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += rj.At(i, k) * r0.At(j, k)
			}
			d[i][j] = sum
		}
	}
	return (d[2][1] - d[1][2]) / 2, (d[0][2] - d[2][0]) / 2, (d[1][0] - d[0][1]) / 2
}

// pointMeters converts the pose point from the frame system's millimeters.
func pointMeters(pose spatialmath.Pose) r3.Vector {
	return pose.Point().Mul(0.001)
}

func (m *pandaModel) SetMassMatrix(mm *mat.Dense) {
	if mm != nil {
		m.massMatrix = mm
	}
}

func (m *pandaModel) MassMatrix() *mat.Dense { return m.massMatrix }

func (m *pandaModel) Jacobian() *mat.Dense { return m.jacobian }

func (m *pandaModel) EEPosition() r3.Vector { return m.position }

func (m *pandaModel) EEOrientation() *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	out.Copy(m.orientation)
	return out
}

func (m *pandaModel) EEVelocity() r3.Vector          { return m.velocity }
func (m *pandaModel) EEAcceleration() r3.Vector      { return m.accel }
func (m *pandaModel) AngularVelocity() r3.Vector     { return m.omega }
func (m *pandaModel) AngularAcceleration() r3.Vector { return m.alpha }
