// Package quat implements the quaternion algebra needed for attitude
// estimation: Hamilton products, rotation matrix conversion and ZYX Euler
// angle extraction.
package quat

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Quaternion is a rotation quaternion with scalar part W.
// Filters in this module keep it unit-norm at all observable points.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity returns the identity rotation.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// New creates a new quaternion from its four components.
func New(w, x, y, z float64) Quaternion {
	return Quaternion{W: w, X: x, Y: y, Z: z}
}

// FromAxisAngle returns the quaternion describing a rotation by angle (rad)
// around axis. The axis need not be unit length. A zero axis yields identity.
func FromAxisAngle(x, y, z, angle float64) Quaternion {
	n := math.Sqrt(x*x + y*y + z*z)
	if n == 0 {
		return Identity()
	}
	s := math.Sin(angle/2) / n

	return Quaternion{
		W: math.Cos(angle / 2),
		X: s * x,
		Y: s * y,
		Z: s * z,
	}
}

// FromEuler builds the quaternion for a ZYX (yaw-pitch-roll) Euler rotation.
// All angles are in radians.
func FromEuler(roll, pitch, yaw float64) Quaternion {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return Quaternion{
		W: cy*cp*cr + sy*sp*sr,
		X: cy*cp*sr - sy*sp*cr,
		Y: cy*sp*cr + sy*cp*sr,
		Z: sy*cp*cr - cy*sp*sr,
	}
}

// Mul returns the Hamilton product q*r: the rotation r followed by q.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Conj returns the conjugate (inverse rotation for unit quaternions).
func (q Quaternion) Conj() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Norm returns the Euclidean norm of q.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit norm.
// A zero quaternion normalizes to identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return Identity()
	}

	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// RotationMatrix returns the direction cosine matrix of q which rotates
// navigation frame vectors into the body frame.
func (q Quaternion) RotationMatrix() *mat.Dense {
	q0, q1, q2, q3 := q.W, q.X, q.Y, q.Z

	return mat.NewDense(3, 3, []float64{
		2*q0*q0 + 2*q1*q1 - 1, 2*q1*q2 + 2*q0*q3, 2*q1*q3 - 2*q0*q2,
		2*q1*q2 - 2*q0*q3, 2*q0*q0 + 2*q2*q2 - 1, 2*q2*q3 + 2*q0*q1,
		2*q1*q3 + 2*q0*q2, 2*q2*q3 - 2*q0*q1, 2*q0*q0 + 2*q3*q3 - 1,
	})
}

// Rotate rotates a navigation frame 3-vector into the body frame of q.
func (q Quaternion) Rotate(v mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(3, nil)
	out.MulVec(q.RotationMatrix(), v)

	return out
}

// Euler returns the ZYX (roll, pitch, yaw) Euler angles of q in radians.
func (q Quaternion) Euler() (roll, pitch, yaw float64) {
	q0, q1, q2, q3 := q.W, q.X, q.Y, q.Z

	roll = math.Atan2(2*(q0*q1+q2*q3), 2*q0*q0+2*q3*q3-1)

	// clamp against rounding outside [-1,1] at gimbal lock
	s := 2 * (q0*q2 - q1*q3)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	pitch = math.Asin(s)

	yaw = math.Atan2(2*(q1*q2+q0*q3), 2*q0*q0+2*q1*q1-1)

	return roll, pitch, yaw
}

// RateMatrix returns the 4x4 skew-symmetric angular velocity operator
// Omega(w) satisfying dq/dt = 0.5*Omega(w)*q for the body rate 3-vector w.
func RateMatrix(w mat.Vector) *mat.Dense {
	wx, wy, wz := w.AtVec(0), w.AtVec(1), w.AtVec(2)

	return mat.NewDense(4, 4, []float64{
		0, -wx, -wy, -wz,
		wx, 0, wz, -wy,
		wy, -wz, 0, wx,
		wz, wy, -wx, 0,
	})
}

// Vec returns q as a 4-vector in (w, x, y, z) order.
func (q Quaternion) Vec() *mat.VecDense {
	return mat.NewVecDense(4, []float64{q.W, q.X, q.Y, q.Z})
}

// FromVec builds a quaternion from a 4-vector in (w, x, y, z) order.
func FromVec(v mat.Vector) Quaternion {
	return Quaternion{W: v.AtVec(0), X: v.AtVec(1), Y: v.AtVec(2), Z: v.AtVec(3)}
}
