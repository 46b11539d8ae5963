// Package occlusion builds hide textures: fixed-size pixel buffers sampled
// from the live frame over a tracked marker's footprint, which the host
// composites over the video to visually hide the physical marker.
package occlusion

import (
	"errors"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/goblin-xna/alvar-extension/pkg/vision"
)

// ErrNotConfigured is returned by Build before Configure has been called.
var ErrNotConfigured = errors.New("occlusion texture not configured")

// Config is the fixed texture layout: square pixel dimensions, bit depth,
// channel count (3 or 4) and the symmetric margin, in marker-local units,
// by which the sampled box extends beyond the marker border.
type Config struct {
	Size     int
	Depth    int
	Channels int
	Margin   float64
}

// Builder produces hide textures for marker poses. The scratch texture is
// owned by the builder and reused across calls; it is reallocated only when
// the configuration changes. Build is pure with respect to detector and
// registry state; it reads only the frame and pose it is given.
type Builder struct {
	cfg     Config
	scratch []byte
}

// New returns an unconfigured builder.
func New() *Builder {
	return &Builder{}
}

// Configure sets the texture layout. Reconfiguring with identical values
// keeps the existing scratch buffer.
func (b *Builder) Configure(size, depth, channels int, margin float64) error {
	if size <= 0 {
		return fmt.Errorf("occlusion texture size %d is invalid", size)
	}
	if depth != 8 {
		return fmt.Errorf("occlusion texture depth %d unsupported, want 8", depth)
	}
	if channels != 3 && channels != 4 {
		return fmt.Errorf("occlusion texture channel count %d unsupported, want 3 or 4", channels)
	}

	cfg := Config{Size: size, Depth: depth, Channels: channels, Margin: margin}
	if cfg != b.cfg || b.scratch == nil {
		b.scratch = make([]byte, size*size*channels)
	}
	b.cfg = cfg
	return nil
}

// Configured reports whether Configure has been called.
func (b *Builder) Configured() bool {
	return b.scratch != nil
}

// Config returns the active configuration.
func (b *Builder) Config() Config {
	return b.cfg
}

// TextureBytes returns the byte length of one texture, which is also the
// minimum destination size per marker for Build.
func (b *Builder) TextureBytes() int {
	return b.cfg.Size * b.cfg.Size * b.cfg.Channels
}

// Build samples the frame over the marker-local box [-margin,margin]^2
// projected through the pose matrix and writes one texture into dst. dst
// must hold at least TextureBytes() bytes; callers extracting several
// markers in one pass pass successive sub-slices.
//
// swapRB exchanges the first and third channel on output. The bundle-pose
// consumer expects the opposite channel order from the single-marker
// consumer. The alpha channel, when present, is copied through unchanged on
// both paths. Samples falling outside the frame are written as zero bytes.
func (b *Builder) Build(f *vision.Frame, intr vision.Intrinsics, poseMat [16]float64, swapRB bool, dst []byte) error {
	if !b.Configured() {
		return ErrNotConfigured
	}
	if len(dst) < b.TextureBytes() {
		return fmt.Errorf("occlusion destination buffer too small: have %d bytes, need %d", len(dst), b.TextureBytes())
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("occlusion source frame: %w", err)
	}

	size := b.cfg.Size
	channels := b.cfg.Channels
	margin := b.cfg.Margin
	step := 2 * margin / float64(size)

	pose := vision.PoseFromMatrixGL(poseMat)

	idx := 0
	for ty := 0; ty < size; ty++ {
		// Marker-local y for this texel row, sampled at the texel center.
		my := -margin + (float64(ty)+0.5)*step
		for tx := 0; tx < size; tx++ {
			mx := -margin + (float64(tx)+0.5)*step

			u, v := intr.Project(pose.Apply([3]float64{mx, my, 0}))
			px := f.PixelAt(int(u), int(v))

			for c := 0; c < channels; c++ {
				if px != nil && c < len(px) {
					b.scratch[idx+c] = px[c]
				} else {
					b.scratch[idx+c] = 0
				}
			}
			idx += channels
		}
	}

	if swapRB {
		for i := 0; i < len(b.scratch); i += channels {
			dst[i] = b.scratch[i+2]
			dst[i+1] = b.scratch[i+1]
			dst[i+2] = b.scratch[i]
			if channels == 4 {
				dst[i+3] = b.scratch[i+3]
			}
		}
		return nil
	}
	copy(dst[:b.TextureBytes()], b.scratch)
	return nil
}

// Footprint returns the image-plane polygon covered by the configured margin
// box under the given pose: the area a host would mask or a recorder would
// log for a tracked marker.
func (b *Builder) Footprint(intr vision.Intrinsics, poseMat [16]float64) (geom.Polygon, error) {
	if !b.Configured() {
		return geom.Polygon{}, ErrNotConfigured
	}

	m := b.cfg.Margin
	pose := vision.PoseFromMatrixGL(poseMat)
	corners := [][2]float64{{-m, -m}, {m, -m}, {m, m}, {-m, m}}

	coords := make([]float64, 0, 10)
	for _, c := range corners {
		u, v := intr.Project(pose.Apply([3]float64{c[0], c[1], 0}))
		coords = append(coords, u, v)
	}
	// Close the ring.
	coords = append(coords, coords[0], coords[1])

	seq := geom.NewSequence(coords, geom.DimXY)
	ring := geom.NewLineString(seq)
	poly := geom.NewPolygon([]geom.LineString{ring})
	if err := poly.Validate(); err != nil {
		return geom.Polygon{}, fmt.Errorf("footprint polygon: %w", err)
	}
	return poly, nil
}
