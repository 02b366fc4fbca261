package recon

// Mat4 is a row-major 4x4 matrix acting on column vectors: p' = M * p
type Mat4 [4][4]float64

// Identity4 returns the 4x4 identity matrix
func Identity4() Mat4 {
	return Mat4{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Mul composes two transforms: result = m * o
// Applying result is equivalent to applying o first, then m
func (m Mat4) Mul(o Mat4) Mat4 {
	var r Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += m[i][k] * o[k][j]
			}
			r[i][j] = s
		}
	}
	return r
}

// Apply transforms a homogeneous point
func (m Mat4) Apply(p Point) Point {
	var r Point
	for i := 0; i < 4; i++ {
		r[i] = m[i][0]*p[0] + m[i][1]*p[1] + m[i][2]*p[2] + m[i][3]*p[3]
	}
	return r
}

// Translation4 creates a translation-only transform
func Translation4(t Vec3) Mat4 {
	m := Identity4()
	m[0][3], m[1][3], m[2][3] = t[0], t[1], t[2]
	return m
}

// RigidTransform builds the world-to-camera transform whose rotation rows are
// rows and whose optical center sits at center: t = -R * center
func RigidTransform(rows [3]Vec3, center Vec3) Mat4 {
	m := Identity4()
	for i, r := range rows {
		m[i][0], m[i][1], m[i][2] = r[0], r[1], r[2]
		m[i][3] = -r.Dot(center)
	}
	return m
}

// Perspective creates a pinhole projection with equal focal length on both
// axes. Depth between near and far maps to NDC z in [-1, 1].
func Perspective(focal, near, far float64) Mat4 {
	return Mat4{
		{focal, 0, 0, 0},
		{0, focal, 0, 0},
		{0, 0, (near + far) / (far - near), 2 * near * far / (near - far)},
		{0, 0, 1, 0},
	}
}

// CameraCenter returns the homogeneous optical center of a projection matrix:
// the null vector of rows 0, 1 and 3, computed from 3x3 cofactors. Row 2 only
// carries the depth mapping and is ignored.
func CameraCenter(p Mat4) Point {
	a, b, c := p[0], p[1], p[3]
	minor := func(i, j, k int) float64 {
		return det3(
			a[i], a[j], a[k],
			b[i], b[j], b[k],
			c[i], c[j], c[k],
		)
	}
	return Point{
		minor(1, 2, 3),
		-minor(0, 2, 3),
		minor(0, 1, 3),
		-minor(0, 1, 2),
	}
}

func det3(a, b, c, d, e, f, g, h, i float64) float64 {
	return a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
}
