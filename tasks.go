package crokinole

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Torque synthesis for the two task formulations the phase machine selects
// between. Both are plain PD laws made dynamically consistent through the
// mass matrix; the pose task additionally yields the nullspace projection
// that keeps the secondary joint task from disturbing it.

// identityMatrix returns I(n).
func identityMatrix(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// regularized returns m + reg*I without touching m.
func regularized(m *mat.Dense, reg float64) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, r, nil)
	out.Copy(m)
	if reg != 0 {
		for i := 0; i < r; i++ {
			out.Set(i, i, out.At(i, i)+reg)
		}
	}
	return out
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// JointTaskTorques computes the joint-space PD torques for the given target
// posture projected through the supplied nullspace (identity when the joint
// task runs alone). With a saturation profile the proportional action is
// folded into a capped desired velocity, which is what bounds the flick's
// terminal-joint speed.
func JointTaskTorques(model RobotModel, q, dq, target []float64, gains GainSet, nullspace *mat.Dense, reg float64) ([]float64, error) {
	dof := model.DOF()
	if len(q) != dof || len(dq) != dof || len(target) != dof {
		return nil, errors.Errorf("joint task expects %d-dof vectors", dof)
	}

	u := mat.NewVecDense(dof, nil)
	sat := gains.JointVelocitySaturation
	for i := 0; i < dof; i++ {
		e := q[i] - target[i]
		if len(sat) == dof && gains.JointKV > 0 {
			dqDesired := clamp(-(gains.JointKP/gains.JointKV)*e, sat[i])
			u.SetVec(i, -gains.JointKV*(dq[i]-dqDesired))
		} else {
			u.SetVec(i, -gains.JointKP*e-gains.JointKV*dq[i])
		}
	}

	m := regularized(model.MassMatrix(), reg)

	var mu mat.VecDense
	mu.MulVec(m, u)

	var tau mat.VecDense
	var nt mat.Dense
	nt.CloneFrom(nullspace.T())
	tau.MulVec(&nt, &mu)

	out := make([]float64, dof)
	for i := 0; i < dof; i++ {
		out[i] = tau.AtVec(i)
	}
	return out, nil
}

// PoseTaskTorques computes operational-space torques tracking the desired
// position and orientation, and returns the dynamically consistent
// nullspace of the pose Jacobian for the secondary task. The task-space
// inertia is regularized the same way the loop regularizes the joint-space
// mass matrix.
func PoseTaskTorques(model RobotModel, dq []float64, targetPos r3.Vector, targetRot *mat.Dense, gains GainSet, reg float64) ([]float64, *mat.Dense, error) {
	dof := model.DOF()
	jac := model.Jacobian()

	minv := mat.NewDense(dof, dof, nil)
	if err := minv.Inverse(regularized(model.MassMatrix(), reg)); err != nil {
		return nil, nil, errors.Wrap(err, "mass matrix inversion failed")
	}

	// Lambda = (J Minv J^T)^-1, regularized against near-singular
	// configurations.
	var jmj mat.Dense
	jmj.Product(jac, minv, jac.T())
	lambda := mat.NewDense(6, 6, nil)
	if err := lambda.Inverse(regularized(&jmj, 1e-9)); err != nil {
		return nil, nil, errors.Wrap(err, "task-space inertia inversion failed")
	}
	lambdaReg := regularized(lambda, reg)

	// Position and orientation error.
	posErr := model.EEPosition().Sub(targetPos)
	oriErr := orientationError(model.EEOrientation(), targetRot)

	v := model.EEVelocity()
	w := model.AngularVelocity()

	f := mat.NewVecDense(6, nil)
	if gains.PoseKV > 0 && (gains.PoseLinearSaturation > 0 || gains.PoseAngularSaturation > 0) {
		vDes := saturatedVector(posErr.Mul(-gains.PoseKP/gains.PoseKV), gains.PoseLinearSaturation)
		wDes := saturatedVector(oriErr.Mul(-gains.PoseKP/gains.PoseKV), gains.PoseAngularSaturation)
		f.SetVec(0, -gains.PoseKV*(v.X-vDes.X))
		f.SetVec(1, -gains.PoseKV*(v.Y-vDes.Y))
		f.SetVec(2, -gains.PoseKV*(v.Z-vDes.Z))
		f.SetVec(3, -gains.PoseKV*(w.X-wDes.X))
		f.SetVec(4, -gains.PoseKV*(w.Y-wDes.Y))
		f.SetVec(5, -gains.PoseKV*(w.Z-wDes.Z))
	} else {
		f.SetVec(0, -gains.PoseKP*posErr.X-gains.PoseKV*v.X)
		f.SetVec(1, -gains.PoseKP*posErr.Y-gains.PoseKV*v.Y)
		f.SetVec(2, -gains.PoseKP*posErr.Z-gains.PoseKV*v.Z)
		f.SetVec(3, -gains.PoseKP*oriErr.X-gains.PoseKV*w.X)
		f.SetVec(4, -gains.PoseKP*oriErr.Y-gains.PoseKV*w.Y)
		f.SetVec(5, -gains.PoseKP*oriErr.Z-gains.PoseKV*w.Z)
	}

	var force mat.VecDense
	force.MulVec(lambdaReg, f)

	var tau mat.VecDense
	var jt mat.Dense
	jt.CloneFrom(jac.T())
	tau.MulVec(&jt, &force)

	// Dynamically consistent inverse: Jbar = Minv J^T Lambda,
	// N = I - Jbar J.
	var jbar mat.Dense
	jbar.Product(minv, jac.T(), lambda)
	var jbarJ mat.Dense
	jbarJ.Mul(&jbar, jac)
	nullspace := identityMatrix(dof)
	nullspace.Sub(nullspace, &jbarJ)

	out := make([]float64, dof)
	for i := 0; i < dof; i++ {
		out[i] = tau.AtVec(i)
	}
	return out, nullspace, nil
}

// orientationError is the instantaneous rotation error between the current
// and desired frames, -0.5 * sum_i r_i x rd_i over the column vectors.
func orientationError(current, desired *mat.Dense) r3.Vector {
	var sum r3.Vector
	for col := 0; col < 3; col++ {
		c := r3.Vector{X: current.At(0, col), Y: current.At(1, col), Z: current.At(2, col)}
		d := r3.Vector{X: desired.At(0, col), Y: desired.At(1, col), Z: desired.At(2, col)}
		sum = sum.Add(c.Cross(d))
	}
	return sum.Mul(-0.5)
}

// saturatedVector scales v down so its norm does not exceed limit.
func saturatedVector(v r3.Vector, limit float64) r3.Vector {
	if limit <= 0 {
		return v
	}
	n := v.Norm()
	if n <= limit || n == 0 {
		return v
	}
	return v.Mul(limit / n)
}

// SumTorques adds task contributions elementwise.
func SumTorques(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

// ZeroTorques returns an all-zero command, the shutdown publish.
func ZeroTorques(dof int) []float64 {
	return make([]float64, dof)
}
