package mesh

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [3][3]float64

// Identity3 returns the 3x3 identity matrix.
func Identity3() Matrix3 {
	return Matrix3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Mul returns m * n.
func (m Matrix3) Mul(n Matrix3) Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return r
}

// MulVec returns m * v.
func (m Matrix3) MulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Transpose returns mᵀ.
func (m Matrix3) Transpose() Matrix3 {
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Det returns the determinant of m.
func (m Matrix3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// RigidTransform maps p to R·p + T.
type RigidTransform struct {
	R Matrix3 `json:"r"`
	T r3.Vec  `json:"t"`
}

// IdentityTransform returns the identity rigid transform.
func IdentityTransform() RigidTransform {
	return RigidTransform{R: Identity3()}
}

// Apply transforms a point.
func (t RigidTransform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.R.MulVec(p), t.T)
}

// ApplyVector rotates a direction; translation is ignored.
func (t RigidTransform) ApplyVector(n r3.Vec) r3.Vec {
	return t.R.MulVec(n)
}

// ApplyAll transforms a slice of points into a new slice.
func (t RigidTransform) ApplyAll(points []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}

// Compose returns the transform that applies t first and then delta:
// R = Rδ·R, T = Rδ·T + Tδ. The rotation is re-orthonormalized.
func (t RigidTransform) Compose(delta RigidTransform) RigidTransform {
	return RigidTransform{
		R: orthonormalize(delta.R.Mul(t.R)),
		T: r3.Add(delta.R.MulVec(t.T), delta.T),
	}
}

// Inverse returns the transform undoing t.
func (t RigidTransform) Inverse() RigidTransform {
	rt := t.R.Transpose()
	return RigidTransform{R: rt, T: r3.Scale(-1, rt.MulVec(t.T))}
}

// RotationAngle returns the rotation angle of t in radians, in [0, π].
func (t RigidTransform) RotationAngle() float64 {
	c := (t.R[0][0] + t.R[1][1] + t.R[2][2] - 1) / 2
	return math.Acos(clamp(c, -1, 1))
}

// TransformFromParams builds a transform from a translation and Euler angles
// in degrees. The rotation is Rz·Ry·Rx.
func TransformFromParams(tx, ty, tz, rx, ry, rz float64) RigidTransform {
	toRad := math.Pi / 180
	return RigidTransform{
		R: eulerMatrix(rx*toRad, ry*toRad, rz*toRad),
		T: r3.Vec{X: tx, Y: ty, Z: tz},
	}
}

// Params returns tx ty tz rx ry rz with angles in degrees, the inverse of
// TransformFromParams.
func (t RigidTransform) Params() [6]float64 {
	rx, ry, rz := t.eulerAngles()
	toDeg := 180 / math.Pi
	return [6]float64{t.T.X, t.T.Y, t.T.Z, rx * toDeg, ry * toDeg, rz * toDeg}
}

// eulerAngles decomposes R = Rz(γ)·Ry(β)·Rx(α) and returns α, β, γ in radians.
func (t RigidTransform) eulerAngles() (float64, float64, float64) {
	m := t.R
	beta := math.Asin(clamp(-m[2][0], -1, 1))
	if math.Abs(math.Cos(beta)) < 1e-9 {
		// gimbal lock: fold the whole yaw/roll into γ
		return 0, beta, math.Atan2(-m[0][1], m[1][1])
	}
	return math.Atan2(m[2][1], m[2][2]), beta, math.Atan2(m[1][0], m[0][0])
}

func eulerMatrix(ax, ay, az float64) Matrix3 {
	sx, cx := math.Sincos(ax)
	sy, cy := math.Sincos(ay)
	sz, cz := math.Sincos(az)
	rx := Matrix3{{1, 0, 0}, {0, cx, -sx}, {0, sx, cx}}
	ry := Matrix3{{cy, 0, sy}, {0, 1, 0}, {-sy, 0, cy}}
	rz := Matrix3{{cz, -sz, 0}, {sz, cz, 0}, {0, 0, 1}}
	return rz.Mul(ry).Mul(rx)
}

// AxisAngle returns the rotation of angle radians about axis (Rodrigues).
func AxisAngle(axis r3.Vec, angle float64) Matrix3 {
	if angle == 0 || r3.Norm(axis) == 0 {
		return Identity3()
	}
	k := r3.Unit(axis)
	s, c := math.Sincos(angle)
	v := 1 - c
	return Matrix3{
		{c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s},
		{k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s},
		{k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v},
	}
}

// QuaternionMatrix converts a quaternion to a rotation matrix through its
// angle 2·acos(w) and axis (x,y,z)/sin(angle/2). A zero angle gives the
// identity.
func QuaternionMatrix(q quat.Number) Matrix3 {
	n := quat.Abs(q)
	if n == 0 {
		return Identity3()
	}
	q = quat.Scale(1/n, q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	angle := 2 * math.Acos(clamp(q.Real, -1, 1))
	s := math.Sin(angle / 2)
	if angle == 0 || s < 1e-12 {
		return Identity3()
	}
	axis := r3.Vec{X: q.Imag / s, Y: q.Jmag / s, Z: q.Kmag / s}
	return AxisAngle(axis, angle)
}

// orthonormalize runs Gram-Schmidt over the rows of m.
func orthonormalize(m Matrix3) Matrix3 {
	r0 := r3.Vec{X: m[0][0], Y: m[0][1], Z: m[0][2]}
	r1 := r3.Vec{X: m[1][0], Y: m[1][1], Z: m[1][2]}
	if r3.Norm(r0) == 0 || r3.Norm(r1) == 0 {
		return m
	}
	r0 = r3.Unit(r0)
	r1 = r3.Sub(r1, r3.Scale(r3.Dot(r1, r0), r0))
	if r3.Norm(r1) == 0 {
		return m
	}
	r1 = r3.Unit(r1)
	r2 := r3.Cross(r0, r1)
	return Matrix3{
		{r0.X, r0.Y, r0.Z},
		{r1.X, r1.Y, r1.Z},
		{r2.X, r2.Y, r2.Z},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
