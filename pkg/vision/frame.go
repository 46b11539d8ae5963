package vision

import "fmt"

// Frame is a single camera image handed to the session by the host.
// Pixel data is 8-bit, interleaved, with row stride Width*Channels, no
// padding or alignment beyond that. ColorModel and ChannelSeq are the 4-byte
// tags the host's image pipeline uses to describe the buffer (e.g. "RGB\x00"
// / "BGR\x00"); they are carried through untouched so the engine can
// interpret channel order.
type Frame struct {
	Width      int
	Height     int
	Channels   int
	ColorModel [4]byte
	ChannelSeq [4]byte
	Pix        []byte
}

// NewFrame builds a Frame over the given pixel slice and validates its size
// against the stated dimensions.
func NewFrame(width, height, channels int, colorModel, channelSeq [4]byte, pix []byte) (*Frame, error) {
	f := &Frame{
		Width:      width,
		Height:     height,
		Channels:   channels,
		ColorModel: colorModel,
		ChannelSeq: channelSeq,
		Pix:        pix,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the frame dimensions against the pixel buffer length.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame has invalid resolution %dx%d", f.Width, f.Height)
	}
	if f.Channels != 1 && f.Channels != 3 && f.Channels != 4 {
		return fmt.Errorf("frame has unsupported channel count %d", f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) < want {
		return fmt.Errorf("frame pixel buffer too small: have %d bytes, need %d", len(f.Pix), want)
	}
	return nil
}

// Stride returns the row stride in bytes.
func (f *Frame) Stride() int {
	return f.Width * f.Channels
}

// PixelAt returns the interleaved channel bytes at (x, y). Coordinates
// outside the frame return nil.
func (f *Frame) PixelAt(x, y int) []byte {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return nil
	}
	off := y*f.Stride() + x*f.Channels
	return f.Pix[off : off+f.Channels]
}
