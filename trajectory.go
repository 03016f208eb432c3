package crokinole

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// TrajectoryGenerator maps elapsed trajectory time and shot parameters to the
// desired operational-space pose. It is a pure lookup: all state it carries
// is calibration geometry, so the same (window, t, shot) always yields the
// same target.
//
// The timeline splits into four half-open intervals:
//
//	[t0,t1)  home to the cue-piece pickup point, linear blend
//	[t1,t2)  pickup to drop-off along the board boundary arc
//	[t2,t4)  hold at the drop-off (settle, then the flick itself)
//	outside  home
//
// Position and orientation agree at every interior boundary; the arc
// interpolates both the subtended angle and the radius so drop-offs that sit
// off the nominal board circle still join up without a step.
type TrajectoryGenerator struct {
	home      r3.Vector
	pickup    r3.Vector
	offset    r3.Vector // board center in the robot frame
	radius    float64
	gatherYaw float64

	homeOrientation *mat.Dense
}

// NewTrajectoryGenerator precomputes the board geometry from calibration.
func NewTrajectoryGenerator(cfg *ControllerConfig) *TrajectoryGenerator {
	offset := r3.Vector{X: cfg.BoardOffset[0], Y: cfg.BoardOffset[1], Z: cfg.BoardOffset[2]}
	pickup := r3.Vector{
		X: cfg.BoardRadius*math.Sin(cfg.PickupAngle) + offset.X,
		Y: cfg.BoardRadius*math.Cos(cfg.PickupAngle) + offset.Y,
		Z: offset.Z,
	}
	home := mat.NewDense(3, 3, append([]float64(nil), cfg.HomeOrientation[:]...))
	return &TrajectoryGenerator{
		home:            r3.Vector{X: cfg.HomePoint[0], Y: cfg.HomePoint[1], Z: cfg.HomePoint[2]},
		pickup:          pickup,
		offset:          offset,
		radius:          cfg.BoardRadius,
		gatherYaw:       cfg.GatherYaw,
		homeOrientation: home,
	}
}

// Home returns the fixed home position.
func (g *TrajectoryGenerator) Home() r3.Vector { return g.home }

// HomeOrientation returns a copy of the fixed home orientation.
func (g *TrajectoryGenerator) HomeOrientation() *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	out.Copy(g.homeOrientation)
	return out
}

// Pickup returns the calibrated cue-piece pickup point on the board rim.
func (g *TrajectoryGenerator) Pickup() r3.Vector { return g.pickup }

// DropOff maps the shot's board-frame drop-off position into the robot
// frame. The board axes are rotated a quarter turn relative to the robot:
// board-x points along robot -y and board-y along robot +x.
func (g *TrajectoryGenerator) DropOff(shot ShotParameters) r3.Vector {
	return r3.Vector{
		X: shot.DropOff.Y + g.offset.X,
		Y: -shot.DropOff.X + g.offset.Y,
		Z: g.offset.Z,
	}
}

// Position returns the desired end-effector position at trajectory time t.
func (g *TrajectoryGenerator) Position(w PhaseWindow, t float64, shot ShotParameters) r3.Vector {
	switch {
	case inRange(t, w.T0, w.T1):
		s := (t - w.T0) / (w.T1 - w.T0)
		return g.home.Add(g.pickup.Sub(g.home).Mul(s))

	case inRange(t, w.T1, w.T2):
		drop := g.DropOff(shot)
		theta0 := math.Atan2(g.pickup.X-g.offset.X, g.pickup.Y-g.offset.Y)
		thetaF := math.Atan2(drop.X-g.offset.X, drop.Y-g.offset.Y)
		rad0 := math.Hypot(g.pickup.X-g.offset.X, g.pickup.Y-g.offset.Y)
		radF := math.Hypot(drop.X-g.offset.X, drop.Y-g.offset.Y)

		s := (t - w.T1) / (w.T2 - w.T1)
		theta := theta0 + (thetaF-theta0)*s
		rad := rad0 + (radF-rad0)*s
		return r3.Vector{
			X: rad*math.Sin(theta) + g.offset.X,
			Y: rad*math.Cos(theta) + g.offset.Y,
			Z: g.pickup.Z,
		}

	case inRange(t, w.T2, w.T4):
		// Settle at the drop-off, then hold through the flick.
		return g.DropOff(shot)

	default:
		return g.home
	}
}

// Orientation returns the desired end-effector orientation at trajectory
// time t as a 3x3 rotation matrix.
func (g *TrajectoryGenerator) Orientation(w PhaseWindow, t float64, shot ShotParameters) *mat.Dense {
	strikeYaw := -math.Pi/2 + shot.StrikeAngle

	switch {
	case inRange(t, w.T0, w.T1):
		s := (t - w.T0) / (w.T1 - w.T0)
		return g.yawed(g.gatherYaw * s)

	case inRange(t, w.T1, w.T2):
		// Ramp from the gather yaw to the strike yaw so the pose handed to
		// the task law stays continuous at both ends of the arc.
		s := (t - w.T1) / (w.T2 - w.T1)
		return g.yawed(g.gatherYaw + (strikeYaw-g.gatherYaw)*s)

	case inRange(t, w.T2, w.T4):
		return g.yawed(strikeYaw)

	default:
		return g.HomeOrientation()
	}
}

// yawed pre-multiplies the home orientation by a rotation about vertical.
func (g *TrajectoryGenerator) yawed(angle float64) *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	out.Mul(rotZ(angle), g.homeOrientation)
	return out
}

// rotZ builds the rotation matrix for a yaw about the vertical axis.
func rotZ(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// FlickDuration is the time the cue tip needs to sweep the swing angle at
// the commanded hit velocity.
func FlickDuration(swingAngle, hitVelocity, eeLength float64) float64 {
	return math.Abs(swingAngle) * eeLength / hitVelocity
}

// SinusoidalFlickAngle is the smooth flick profile about the pivot angle:
// the terminal joint swings from pivot-a through pivot+a and back.
func SinusoidalFlickAngle(angularRate, t, pivot, swingAngle float64) float64 {
	a := swingAngle / 2.0
	w := angularRate / a
	return -a*math.Sin(w*t-math.Pi/2.0) + pivot
}

// SinusoidalFlickVelocity is the time derivative of SinusoidalFlickAngle.
func SinusoidalFlickVelocity(angularRate, t, pivot, swingAngle float64) float64 {
	a := swingAngle / 2.0
	w := angularRate / a
	return -a * w * math.Cos(w*t-math.Pi/2.0)
}
