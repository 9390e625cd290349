// Package convert normalizes incoming video frames of assorted pixel
// encodings into fixed-geometry RGBA for the shared-memory transport.
//
// Numeric semantics are deliberate and load-bearing: coordinate mapping and
// color conversion use integer truncation, not rounding, so output is
// bit-reproducible across implementations. Do not "fix" the math.
package convert

import (
	"errors"
	"fmt"

	"github.com/streamlumo/frame-shm/internal/logging"
)

// PixelFormat tags the encoding of an incoming frame.
type PixelFormat uint32

const (
	FormatUnknown PixelFormat = iota
	// FormatNV12 is planar 8-bit 4:2:0 with interleaved UV (two planes).
	FormatNV12
	// FormatI420 is planar 8-bit 4:2:0 with separate U and V (three planes).
	FormatI420
	// FormatUYVY is packed 4:2:2, byte order U0 Y0 V0 Y1.
	FormatUYVY
	// FormatYUY2 is packed 4:2:2, byte order Y0 U0 Y1 V0.
	FormatYUY2
	FormatRGBA
	FormatBGRA
	FormatGray8
)

func (f PixelFormat) String() string {
	switch f {
	case FormatNV12:
		return "nv12"
	case FormatI420:
		return "i420"
	case FormatUYVY:
		return "uyvy"
	case FormatYUY2:
		return "yuy2"
	case FormatRGBA:
		return "rgba"
	case FormatBGRA:
		return "bgra"
	case FormatGray8:
		return "gray8"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(f))
	}
}

// SourceFrame describes one incoming frame. Planes and Strides are parallel;
// strides are bytes per row and may exceed the packed width due to alignment
// padding, so rows are always indexed by stride. The slices are only valid
// for the duration of the call that received them.
type SourceFrame struct {
	Planes  [][]byte
	Strides []int
	Width   int
	Height  int
	Format  PixelFormat
}

var (
	// ErrBadDestination means dst is not exactly FrameSize bytes.
	ErrBadDestination = errors.New("convert: destination size does not match target frame size")
	// ErrBadSource means the frame has no usable geometry or planes.
	ErrBadSource = errors.New("convert: source frame has no usable geometry or planes")
)

// Converter maps arbitrary source frames onto one fixed target geometry
// with nearest-neighbor scaling. Not safe for concurrent use; each producer
// context owns one.
type Converter struct {
	width  int
	height int

	log           *logging.Logger
	warnedUnknown bool
}

// New returns a converter for the given target geometry.
func New(width, height int) *Converter {
	return &Converter{
		width:  width,
		height: height,
		log:    logging.New("convert", nil),
	}
}

// FrameSize returns the RGBA output size in bytes.
func (c *Converter) FrameSize() int {
	return c.width * c.height * 4
}

// Convert renders src into dst as RGBA at the target geometry.
//
// An unrecognized format tag fills dst with an opaque red sentinel (warned
// once, not per frame) and returns nil: the transport downstream must always
// receive a well-formed fixed-size buffer.
func (c *Converter) Convert(dst []byte, src *SourceFrame) error {
	if len(dst) != c.FrameSize() {
		return ErrBadDestination
	}
	if src == nil || src.Width <= 0 || src.Height <= 0 {
		return ErrBadSource
	}

	switch src.Format {
	case FormatNV12:
		if !src.hasPlanes(2) {
			return ErrBadSource
		}
		c.convertPlanar420(dst, src, true)
	case FormatI420:
		if !src.hasPlanes(3) {
			return ErrBadSource
		}
		c.convertPlanar420(dst, src, false)
	case FormatUYVY, FormatYUY2:
		if !src.hasPlanes(1) {
			return ErrBadSource
		}
		c.convertPacked422(dst, src)
	case FormatRGBA:
		if !src.hasPlanes(1) {
			return ErrBadSource
		}
		c.convertRGBA(dst, src, false)
	case FormatBGRA:
		if !src.hasPlanes(1) {
			return ErrBadSource
		}
		c.convertRGBA(dst, src, true)
	case FormatGray8:
		if !src.hasPlanes(1) {
			return ErrBadSource
		}
		c.convertGray(dst, src)
	default:
		if !c.warnedUnknown {
			c.log.Errorf("unsupported pixel format %s, producing sentinel frames", src.Format)
			c.warnedUnknown = true
		}
		c.fillSentinel(dst)
	}
	return nil
}

func (s *SourceFrame) hasPlanes(n int) bool {
	if len(s.Planes) < n || len(s.Strides) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if len(s.Planes[i]) == 0 || s.Strides[i] <= 0 {
			return false
		}
	}
	return true
}

// srcCoord maps a destination coordinate to a source coordinate by
// nearest-neighbor with truncation, clamped into the source.
func srcCoord(d, srcDim, dstDim int) int {
	s := d * srcDim / dstDim
	if s >= srcDim {
		s = srcDim - 1
	}
	return s
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// writeYUV converts one BT.601 sample triplet (u and v already centered on
// zero) into RGBA. float32 arithmetic with truncating int conversion,
// matching the producer this transport was built against.
func writeYUV(dst []byte, y, u, v int) {
	r := int(float32(y) + 1.402*float32(v))
	g := int(float32(y) - 0.344136*float32(u) - 0.714136*float32(v))
	b := int(float32(y) + 1.772*float32(u))
	dst[0] = clampByte(r)
	dst[1] = clampByte(g)
	dst[2] = clampByte(b)
	dst[3] = 255
}

func (c *Converter) convertPlanar420(dst []byte, src *SourceFrame, twoPlane bool) {
	yPlane, yStride := src.Planes[0], src.Strides[0]
	uPlane, uStride := src.Planes[1], src.Strides[1]
	var vPlane []byte
	vStride := 0
	if !twoPlane {
		vPlane, vStride = src.Planes[2], src.Strides[2]
	}

	for dy := 0; dy < c.height; dy++ {
		sy := srcCoord(dy, src.Height, c.height)
		yRow := yPlane[sy*yStride:]
		uRow := uPlane[(sy/2)*uStride:]
		var vRow []byte
		if !twoPlane {
			vRow = vPlane[(sy/2)*vStride:]
		}
		out := dst[dy*c.width*4:]

		for dx := 0; dx < c.width; dx++ {
			sx := srcCoord(dx, src.Width, c.width)
			luma := int(yRow[sx])

			var u, v int
			if twoPlane {
				// Interleaved UV; clamp the byte offset against the
				// actual stride in case the chroma plane is narrower
				// than the luma geometry implies.
				off := (sx / 2) * 2
				if off+1 >= uStride {
					if uStride >= 2 {
						off = uStride - 2
					} else {
						off = 0
					}
				}
				u = int(uRow[off]) - 128
				v = int(uRow[off+1]) - 128
			} else {
				cx := sx / 2
				ux := cx
				if ux >= uStride {
					ux = uStride - 1
				}
				vx := cx
				if vx >= vStride {
					vx = vStride - 1
				}
				u = int(uRow[ux]) - 128
				v = int(vRow[vx]) - 128
			}
			writeYUV(out[dx*4:], luma, u, v)
		}
	}
}

func (c *Converter) convertPacked422(dst []byte, src *SourceFrame) {
	plane, stride := src.Planes[0], src.Strides[0]
	yuy2 := src.Format == FormatYUY2

	for dy := 0; dy < c.height; dy++ {
		sy := srcCoord(dy, src.Height, c.height)
		row := plane[sy*stride:]
		out := dst[dy*c.width*4:]

		for dx := 0; dx < c.width; dx++ {
			sx := srcCoord(dx, src.Width, c.width)
			// Four bytes carry two horizontally-adjacent pixels sharing
			// one chroma sample; parity selects the luma byte. An odd
			// width leaves a truncated final block, so clamp to the last
			// complete one rather than reading past the row.
			block := (sx / 2) * 4
			if block+4 > stride {
				if stride >= 4 {
					block = (stride/4 - 1) * 4
				} else {
					block = 0
				}
			}
			lumaOff := 0
			if sx%2 == 1 {
				lumaOff = 2
			}

			var luma, u, v int
			if yuy2 {
				// Y0 U0 Y1 V0
				luma = int(row[block+lumaOff])
				u = int(row[block+1]) - 128
				v = int(row[block+3]) - 128
			} else {
				// U0 Y0 V0 Y1
				luma = int(row[block+1+lumaOff])
				u = int(row[block]) - 128
				v = int(row[block+2]) - 128
			}
			writeYUV(out[dx*4:], luma, u, v)
		}
	}
}

func (c *Converter) convertGray(dst []byte, src *SourceFrame) {
	plane, stride := src.Planes[0], src.Strides[0]
	for dy := 0; dy < c.height; dy++ {
		sy := srcCoord(dy, src.Height, c.height)
		row := plane[sy*stride:]
		out := dst[dy*c.width*4:]
		for dx := 0; dx < c.width; dx++ {
			v := row[srcCoord(dx, src.Width, c.width)]
			out[dx*4+0] = v
			out[dx*4+1] = v
			out[dx*4+2] = v
			out[dx*4+3] = 255
		}
	}
}

func (c *Converter) convertRGBA(dst []byte, src *SourceFrame, swap bool) {
	plane, stride := src.Planes[0], src.Strides[0]
	dstStride := c.width * 4

	// Exact-copy fast path: matching geometry, unpadded rows, no swap.
	if !swap && src.Width == c.width && src.Height == c.height && stride == dstStride {
		copy(dst, plane[:c.FrameSize()])
		return
	}

	for dy := 0; dy < c.height; dy++ {
		sy := srcCoord(dy, src.Height, c.height)
		row := plane[sy*stride:]
		out := dst[dy*dstStride:]
		for dx := 0; dx < c.width; dx++ {
			px := row[srcCoord(dx, src.Width, c.width)*4:]
			if swap {
				out[dx*4+0] = px[2]
				out[dx*4+1] = px[1]
				out[dx*4+2] = px[0]
			} else {
				out[dx*4+0] = px[0]
				out[dx*4+1] = px[1]
				out[dx*4+2] = px[2]
			}
			out[dx*4+3] = px[3]
		}
	}
}

// fillSentinel paints an opaque red frame so an unsupported source is
// visible downstream instead of silently stalling the stream.
func (c *Converter) fillSentinel(dst []byte) {
	for i := 0; i < len(dst); i += 4 {
		dst[i+0] = 255
		dst[i+1] = 0
		dst[i+2] = 0
		dst[i+3] = 255
	}
}
