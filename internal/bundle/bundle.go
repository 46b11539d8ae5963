// Package bundle owns multi-marker bundles: fixed sets of markers with known
// relative geometry, tracked jointly for one aggregate pose that is more
// robust than any single member. Geometry is loaded once from a configuration
// file at registration time; per-frame state is limited to the last computed
// aggregate pose and its reprojection error.
package bundle

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/goblin-xna/alvar-extension/internal/detector"
	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// Member is one marker inside a bundle: its id, physical edge length, and
// its pose relative to the bundle origin.
type Member struct {
	ID   int
	Size float64
	Pose vision.Pose
}

// Bundle is a registered multi-marker bundle. The member set is immutable
// after registration; Pose and Error are rewritten on every update.
type Bundle struct {
	members []Member
	byID    map[int]Member

	pose vision.Pose
	err  float64
}

// newBundle builds a bundle from parsed members, optionally restricted to
// the ids the caller declared interest in.
func newBundle(members []Member, memberIDs []int) (*Bundle, error) {
	if len(memberIDs) > 0 {
		want := make(map[int]bool, len(memberIDs))
		for _, id := range memberIDs {
			want[id] = true
		}
		kept := make([]Member, 0, len(memberIDs))
		for _, m := range members {
			if want[m.ID] {
				kept = append(kept, m)
			}
		}
		members = kept
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("bundle has no members after filtering")
	}

	byID := make(map[int]Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	return &Bundle{members: members, byID: byID, err: -1}, nil
}

// Members returns the bundle's member geometry in file order.
func (b *Bundle) Members() []Member {
	return b.members
}

// Pose returns the last computed aggregate pose and reprojection error.
// Error is negative when no aggregate pose has been computed yet or the last
// update saw no members.
func (b *Bundle) Pose() (vision.Pose, float64) {
	return b.pose, b.err
}

// update recomputes the aggregate pose and reprojection error from whichever
// observed markers belong to this bundle. With no observed members, the
// previous pose is retained and the error reports -1.
func (b *Bundle) update(result detector.Result, intr vision.Intrinsics) (vision.Pose, float64) {
	type observation struct {
		member Member
		pose   vision.Pose
	}
	var obs []observation
	for _, m := range result.Markers {
		if member, ok := b.byID[m.ID]; ok {
			obs = append(obs, observation{member: member, pose: m.Pose})
		}
	}
	if len(obs) == 0 {
		b.err = -1
		return b.pose, b.err
	}

	// Each observed member implies a bundle pose: its observed camera-frame
	// pose composed with the inverse of its bundle-relative geometry.
	var tx, ty, tz float64
	rot := mat.NewDense(3, 3, nil)
	for _, o := range obs {
		implied := o.pose.Compose(o.member.Pose.Inverse())
		tx += implied.Translation[0]
		ty += implied.Translation[1]
		tz += implied.Translation[2]
		accumulateRotation(rot, implied.Rotation)
	}
	n := float64(len(obs))
	aggregate := vision.Pose{
		Rotation:    averageRotation(rot),
		Translation: [3]float64{tx / n, ty / n, tz / n},
	}

	// Reprojection error: RMS pixel distance between each member's corners
	// projected under its observed pose and under the aggregate pose.
	var sum float64
	var count int
	for _, o := range obs {
		predicted := aggregate.Compose(o.member.Pose)
		for _, c := range markerCorners(o.member.Size) {
			ou, ov := intr.Project(o.pose.Apply(c))
			pu, pv := intr.Project(predicted.Apply(c))
			du, dv := ou-pu, ov-pv
			sum += du*du + dv*dv
			count++
		}
	}

	b.pose = aggregate
	b.err = math.Sqrt(sum / float64(count))
	return b.pose, b.err
}

// trackHints projects every member under the given bundle pose to build
// track-only hints for the detector.
func (b *Bundle) trackHints(intr vision.Intrinsics, pose vision.Pose) []vision.TrackHint {
	hints := make([]vision.TrackHint, 0, len(b.members))
	for _, m := range b.members {
		predicted := pose.Compose(m.Pose)
		var hint vision.TrackHint
		hint.ID = m.ID
		hint.Size = m.Size
		for i, c := range markerCorners(m.Size) {
			u, v := intr.Project(predicted.Apply(c))
			hint.Corners[i] = vision.Point2{X: u, Y: v}
		}
		hints = append(hints, hint)
	}
	return hints
}

// markerCorners returns the four marker-local corner points for a marker of
// the given edge length, in winding order on the z=0 plane.
func markerCorners(size float64) [4][3]float64 {
	h := size / 2
	return [4][3]float64{
		{-h, -h, 0},
		{h, -h, 0},
		{h, h, 0},
		{-h, h, 0},
	}
}

// accumulateRotation adds the quaternion's rotation matrix into acc.
func accumulateRotation(acc *mat.Dense, q vision.Quaternion) {
	m := vision.Pose{Rotation: q}.MatrixGL()
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			acc.Set(row, col, acc.At(row, col)+m[col*4+row])
		}
	}
}

// averageRotation orthonormalizes the accumulated rotation matrices back to
// the nearest proper rotation via SVD (R = U V^T) and converts to a
// quaternion.
func averageRotation(acc *mat.Dense) vision.Quaternion {
	var svd mat.SVD
	if !svd.Factorize(acc, mat.SVDThin) {
		return vision.Identity()
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())

	// Guard against a reflection: flip the last column of U if det < 0.
	if mat.Det(&r) < 0 {
		for row := 0; row < 3; row++ {
			u.Set(row, 2, -u.At(row, 2))
		}
		r.Mul(&u, v.T())
	}

	var m [16]float64
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			m[col*4+row] = r.At(row, col)
		}
	}
	m[15] = 1
	return vision.PoseFromMatrixGL(m).Rotation
}
