package vision

import "math"

// Quaternion is a rotation in (W, X, Y, Z) order.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity returns the identity rotation.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// Normalize scales the quaternion to unit length. A zero quaternion
// normalizes to the identity.
func (q Quaternion) Normalize() Quaternion {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n == 0 {
		return Identity()
	}
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Mul returns the Hamilton product q*r.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Conjugate returns the inverse rotation for a unit quaternion.
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Rotate applies the rotation to a 3-vector.
func (q Quaternion) Rotate(v [3]float64) [3]float64 {
	p := Quaternion{X: v[0], Y: v[1], Z: v[2]}
	r := q.Mul(p).Mul(q.Conjugate())
	return [3]float64{r.X, r.Y, r.Z}
}

// Pose is a 6-DoF rigid transform: rotation followed by translation. For a
// detected marker it maps marker-local coordinates into the camera frame.
type Pose struct {
	Rotation    Quaternion
	Translation [3]float64
}

// Apply transforms a point from the pose's local frame into the camera frame.
func (p Pose) Apply(v [3]float64) [3]float64 {
	r := p.Rotation.Rotate(v)
	return [3]float64{r[0] + p.Translation[0], r[1] + p.Translation[1], r[2] + p.Translation[2]}
}

// Inverse returns the pose mapping camera coordinates back into the local
// frame.
func (p Pose) Inverse() Pose {
	inv := p.Rotation.Conjugate()
	t := inv.Rotate(p.Translation)
	return Pose{
		Rotation:    inv,
		Translation: [3]float64{-t[0], -t[1], -t[2]},
	}
}

// Compose returns the pose equivalent to applying q first, then p.
func (p Pose) Compose(q Pose) Pose {
	return Pose{
		Rotation:    p.Rotation.Mul(q.Rotation).Normalize(),
		Translation: p.Apply(q.Translation),
	}
}

// MatrixGL exports the pose as a 4x4 column-major matrix in the OpenGL
// convention, the layout immediate-mode renderers consume directly.
// Element (row, col) lives at index col*4+row.
func (p Pose) MatrixGL() [16]float64 {
	q := p.Rotation.Normalize()
	xx, yy, zz := q.X*q.X, q.Y*q.Y, q.Z*q.Z
	xy, xz, yz := q.X*q.Y, q.X*q.Z, q.Y*q.Z
	wx, wy, wz := q.W*q.X, q.W*q.Y, q.W*q.Z

	var m [16]float64
	m[0] = 1 - 2*(yy+zz)
	m[1] = 2 * (xy + wz)
	m[2] = 2 * (xz - wy)
	m[4] = 2 * (xy - wz)
	m[5] = 1 - 2*(xx+zz)
	m[6] = 2 * (yz + wx)
	m[8] = 2 * (xz + wy)
	m[9] = 2 * (yz - wx)
	m[10] = 1 - 2*(xx+yy)
	m[12] = p.Translation[0]
	m[13] = p.Translation[1]
	m[14] = p.Translation[2]
	m[15] = 1
	return m
}

// PoseFromMatrixGL rebuilds a Pose from a column-major 4x4 rigid transform.
// Rotation extraction uses the largest-diagonal branch to stay numerically
// stable near 180-degree rotations.
func PoseFromMatrixGL(m [16]float64) Pose {
	// Row-major access into the column-major array.
	r := func(row, col int) float64 { return m[col*4+row] }

	var q Quaternion
	trace := r(0, 0) + r(1, 1) + r(2, 2)
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q.W = s / 4
		q.X = (r(2, 1) - r(1, 2)) / s
		q.Y = (r(0, 2) - r(2, 0)) / s
		q.Z = (r(1, 0) - r(0, 1)) / s
	case r(0, 0) > r(1, 1) && r(0, 0) > r(2, 2):
		s := math.Sqrt(1+r(0, 0)-r(1, 1)-r(2, 2)) * 2
		q.W = (r(2, 1) - r(1, 2)) / s
		q.X = s / 4
		q.Y = (r(0, 1) + r(1, 0)) / s
		q.Z = (r(0, 2) + r(2, 0)) / s
	case r(1, 1) > r(2, 2):
		s := math.Sqrt(1+r(1, 1)-r(0, 0)-r(2, 2)) * 2
		q.W = (r(0, 2) - r(2, 0)) / s
		q.X = (r(0, 1) + r(1, 0)) / s
		q.Y = s / 4
		q.Z = (r(1, 2) + r(2, 1)) / s
	default:
		s := math.Sqrt(1+r(2, 2)-r(0, 0)-r(1, 1)) * 2
		q.W = (r(1, 0) - r(0, 1)) / s
		q.X = (r(0, 2) + r(2, 0)) / s
		q.Y = (r(1, 2) + r(2, 1)) / s
		q.Z = s / 4
	}

	return Pose{
		Rotation:    q.Normalize(),
		Translation: [3]float64{m[12], m[13], m[14]},
	}
}
