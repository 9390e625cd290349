package transport

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// NumSlots is the triple-buffer depth. Fixed by the wire layout.
	NumSlots = 3

	// DefaultWidth and DefaultHeight are the production target geometry.
	DefaultWidth  = 1920
	DefaultHeight = 1080

	bytesPerPixel    = 4 // RGBA
	controlBlockSize = 64
)

// FormatRGBA is the only slot pixel format; the converter normalizes
// everything to it before publish.
const FormatRGBA uint32 = 0

// controlBlock is the 64-byte metadata header at offset 0 of every channel
// region. Field order and widths are the wire format; both processes map
// this struct over the same bytes. Every field has exactly one writer
// process. The pause flags are full words rather than bytes so each can be
// stored independently without a read-modify-write on a shared word.
type controlBlock struct {
	writeIndex atomic.Uint64 // producer-owned, slot index in [0,3)
	readIndex  atomic.Uint64 // consumer-owned, slot index in [0,3)

	width       atomic.Uint32 // creator-stamped, read-only after init
	height      atomic.Uint32
	frameSize   atomic.Uint32 // init latch: zero means "not yet initialized"
	pixelFormat atomic.Uint32

	frameCounter  atomic.Uint64 // producer-owned, best-effort statistics
	droppedFrames atomic.Uint64 // producer-owned
	lastWriteNs   atomic.Uint64 // producer-owned

	pauseRequested atomic.Uint32 // consumer-owned
	producerPaused atomic.Uint32 // producer-owned
}

func init() {
	if unsafe.Sizeof(controlBlock{}) != controlBlockSize {
		panic(fmt.Sprintf("transport: control block is %d bytes, expected %d",
			unsafe.Sizeof(controlBlock{}), controlBlockSize))
	}
}

// FrameBytes returns the slot size for a target geometry.
func FrameBytes(width, height int) int {
	return width * height * bytesPerPixel
}

// RegionSize returns the full channel region size for a target geometry.
func RegionSize(width, height int) int {
	return controlBlockSize + NumSlots*FrameBytes(width, height)
}

// arena is the typed view over one mapped channel region.
type arena struct {
	cb    *controlBlock
	slots [NumSlots][]byte
}

func newArena(mem []byte, frameSize uint32) (*arena, error) {
	need := controlBlockSize + NumSlots*int(frameSize)
	if len(mem) < need {
		return nil, fmt.Errorf("transport: region is %d bytes, need %d", len(mem), need)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, fmt.Errorf("transport: region base is not 8-byte aligned")
	}
	a := &arena{cb: (*controlBlock)(unsafe.Pointer(&mem[0]))}
	for i := 0; i < NumSlots; i++ {
		off := controlBlockSize + i*int(frameSize)
		a.slots[i] = mem[off : off+int(frameSize) : off+int(frameSize)]
	}
	return a, nil
}

// slotDistance is how far the producer is ahead of the consumer, modulo the
// slot count.
func slotDistance(writeIdx, readIdx uint64) uint64 {
	return (writeIdx + NumSlots - readIdx) % NumSlots
}

func nextSlot(idx uint64) uint64 {
	return (idx + 1) % NumSlots
}

func latestSlot(writeIdx uint64) uint64 {
	return (writeIdx + NumSlots - 1) % NumSlots
}
