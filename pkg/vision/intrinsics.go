package vision

// Intrinsics holds the pinhole camera parameters the engine and the session
// share: focal lengths and principal point in pixels, plus radial distortion
// coefficients. Distortion is applied in the normalized image plane before
// scaling by the focal lengths.
type Intrinsics struct {
	Fx, Fy     float64
	Cx, Cy     float64
	Distortion [4]float64
}

// Project maps a camera-frame 3D point onto the image plane in pixel
// coordinates. Points at or behind the camera plane project to the principal
// point.
func (in Intrinsics) Project(p [3]float64) (u, v float64) {
	if p[2] <= 0 {
		return in.Cx, in.Cy
	}
	x := p[0] / p[2]
	y := p[1] / p[2]

	r2 := x*x + y*y
	k1, k2 := in.Distortion[0], in.Distortion[1]
	radial := 1 + k1*r2 + k2*r2*r2
	x *= radial
	y *= radial

	return in.Fx*x + in.Cx, in.Fy*y + in.Cy
}

// Point2 is an image-plane point in pixel coordinates.
type Point2 struct {
	X, Y float64
}

// Point3 is a 3D point, in whatever frame the context defines.
type Point3 struct {
	X, Y, Z float64
}
