package transport

import (
	"fmt"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamlumo/frame-shm/internal/logging"
)

const (
	testWidth  = 4
	testHeight = 4
)

// alignedBuf allocates an 8-byte-aligned heap buffer so the control block
// view is valid without a real mapping.
func alignedBuf(n int) []byte {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// newArenaChannel builds an endpoint over caller-supplied memory. Two
// endpoints over the same buffer behave like two processes mapping one
// region.
func newArenaChannel(t *testing.T, mem []byte, initialize bool) *Channel {
	t.Helper()
	opts := Options{Channel: "test", Width: testWidth, Height: testHeight}.withDefaults()
	c := &Channel{
		opts:      opts,
		frameSize: uint32(FrameBytes(testWidth, testHeight)),
		log:       logging.New("transport/test", nil),
	}
	a, err := newArena(mem, c.frameSize)
	require.NoError(t, err)
	if initialize {
		c.initControlBlock(a.cb)
	} else {
		require.NoError(t, c.validateControlBlock(a.cb))
	}
	c.arena = a
	c.connected.Store(true)
	return c
}

func newTestPair(t *testing.T) (producer, consumer *Channel) {
	t.Helper()
	mem := alignedBuf(RegionSize(testWidth, testHeight))
	producer = newArenaChannel(t, mem, true)
	consumer = newArenaChannel(t, mem, false)
	return producer, consumer
}

func testFrame(seed byte, size int) []byte {
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = seed + byte(i)
	}
	return frame
}

func TestPublishAcquireRoundTrip(t *testing.T) {
	producer, consumer := newTestPair(t)
	frame := testFrame(0x10, producer.FrameSize())

	require.NoError(t, producer.Publish(frame))

	out := make([]byte, consumer.FrameSize())
	ok, err := consumer.AcquireLatest(out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, frame, out)
}

func TestAcquireBeforeAnyPublish(t *testing.T) {
	_, consumer := newTestPair(t)

	out := make([]byte, consumer.FrameSize())
	ok, err := consumer.AcquireLatest(out)
	require.NoError(t, err)
	assert.False(t, ok, "no publish since creation must report no new frame")
}

func TestAcquireTwiceWithoutNewPublish(t *testing.T) {
	producer, consumer := newTestPair(t)
	require.NoError(t, producer.Publish(testFrame(1, producer.FrameSize())))

	out := make([]byte, consumer.FrameSize())
	ok, err := consumer.AcquireLatest(out)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = consumer.AcquireLatest(out)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire without a publish must report no new frame")
}

func TestPublishSizeMismatch(t *testing.T) {
	producer, _ := newTestPair(t)

	before, err := producer.Metadata()
	require.NoError(t, err)

	assert.ErrorIs(t, producer.Publish(make([]byte, producer.FrameSize()-1)), ErrSizeMismatch)
	assert.ErrorIs(t, producer.Publish(make([]byte, producer.FrameSize()+1)), ErrSizeMismatch)

	after, err := producer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, before, after, "a rejected publish must not mutate state")
}

func TestAcquireSizeMismatch(t *testing.T) {
	_, consumer := newTestPair(t)
	_, err := consumer.AcquireLatest(make([]byte, consumer.FrameSize()+8))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestFrameCounterMonotonic(t *testing.T) {
	producer, consumer := newTestPair(t)
	out := make([]byte, consumer.FrameSize())

	var last uint64
	for i := 0; i < 20; i++ {
		require.NoError(t, producer.Publish(testFrame(byte(i), producer.FrameSize())))
		md, err := producer.Metadata()
		require.NoError(t, err)
		assert.Equal(t, last+1, md.FrameCounter, "counter advances by exactly one per publish")
		last = md.FrameCounter

		if i%3 == 0 {
			_, err := consumer.AcquireLatest(out)
			require.NoError(t, err)
		}
	}
}

func TestOverloadDropsAndLatestWins(t *testing.T) {
	producer, consumer := newTestPair(t)

	const n = 10
	var newest []byte
	for i := 0; i < n; i++ {
		newest = testFrame(byte(0x40+i), producer.FrameSize())
		require.NoError(t, producer.Publish(newest))
	}

	md, err := producer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint64(n), md.FrameCounter)
	assert.Greater(t, md.DroppedFrames, uint64(0),
		"a consumer that never drains must show dropped frames")

	out := make([]byte, consumer.FrameSize())
	ok, err := consumer.AcquireLatest(out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, newest, out, "the consumer must see the Nth payload, never an older one")
}

func TestDroppedCounterAdvisoryOnly(t *testing.T) {
	producer, _ := newTestPair(t)

	// Fill far past the consumer; every publish must still succeed.
	for i := 0; i < NumSlots*3; i++ {
		assert.NoError(t, producer.Publish(testFrame(byte(i), producer.FrameSize())))
	}
	md, err := producer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint64(NumSlots*3), md.FrameCounter)
}

func TestLastWriteTimestampAdvances(t *testing.T) {
	producer, _ := newTestPair(t)

	md, err := producer.Metadata()
	require.NoError(t, err)
	assert.Zero(t, md.LastWriteTimestampNs)

	require.NoError(t, producer.Publish(testFrame(9, producer.FrameSize())))
	md, err = producer.Metadata()
	require.NoError(t, err)
	assert.NotZero(t, md.LastWriteTimestampNs)
}

func TestMetadataSnapshot(t *testing.T) {
	producer, _ := newTestPair(t)
	md, err := producer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint32(testWidth), md.Width)
	assert.Equal(t, uint32(testHeight), md.Height)
	assert.Equal(t, uint32(FrameBytes(testWidth, testHeight)), md.FrameSize)
	assert.Equal(t, FormatRGBA, md.PixelFormat)
}

func TestDetachedEndpointErrors(t *testing.T) {
	c := &Channel{frameSize: 64}
	assert.ErrorIs(t, c.Publish(make([]byte, 64)), ErrNotAttached)
	_, err := c.AcquireLatest(make([]byte, 64))
	assert.ErrorIs(t, err, ErrNotAttached)
	_, err = c.Metadata()
	assert.ErrorIs(t, err, ErrNotAttached)
	assert.False(t, c.IsConnected())
	assert.False(t, c.WaitForFrame(0))
}

func TestOpenerRejectsUninitializedRegion(t *testing.T) {
	mem := alignedBuf(RegionSize(testWidth, testHeight))
	opts := Options{Channel: "test", Width: testWidth, Height: testHeight}.withDefaults()
	c := &Channel{opts: opts, frameSize: uint32(FrameBytes(testWidth, testHeight))}
	a, err := newArena(mem, c.frameSize)
	require.NoError(t, err)
	assert.ErrorIs(t, c.validateControlBlock(a.cb), errNotInitialized)
}

func TestOpenerRejectsGeometryMismatch(t *testing.T) {
	mem := alignedBuf(RegionSize(8, 8))
	producer := &Channel{
		opts:      Options{Channel: "test", Width: 8, Height: 8}.withDefaults(),
		frameSize: uint32(FrameBytes(8, 8)),
	}
	a, err := newArena(mem, producer.frameSize)
	require.NoError(t, err)
	producer.initControlBlock(a.cb)

	opener := &Channel{
		opts:      Options{Channel: "test", Width: 4, Height: 4}.withDefaults(),
		frameSize: uint32(FrameBytes(4, 4)),
	}
	assert.ErrorIs(t, opener.validateControlBlock(a.cb), ErrGeometryMismatch)
}

func TestConcurrentProducerConsumer(t *testing.T) {
	producer, consumer := newTestPair(t)

	const publishes = 2000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < publishes; i++ {
			_ = producer.Publish(testFrame(byte(i), producer.FrameSize()))
		}
	}()

	acquired := 0
	go func() {
		defer wg.Done()
		out := make([]byte, consumer.FrameSize())
		for i := 0; i < publishes; i++ {
			ok, err := consumer.AcquireLatest(out)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				acquired++
			}
		}
	}()

	wg.Wait()
	md, err := producer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint64(publishes), md.FrameCounter)
	t.Logf("acquired %d of %d publishes, %d marked dropped", acquired, publishes, md.DroppedFrames)
}

func TestSlotDistance(t *testing.T) {
	cases := []struct {
		w, r, want uint64
	}{
		{0, 0, 0},
		{1, 0, 1},
		{2, 0, 2},
		{0, 1, 2},
		{0, 2, 1},
		{2, 2, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("w%d_r%d", tc.w, tc.r), func(t *testing.T) {
			assert.Equal(t, tc.want, slotDistance(tc.w, tc.r))
		})
	}
}

func TestLayoutConstants(t *testing.T) {
	assert.Equal(t, 8294400, FrameBytes(DefaultWidth, DefaultHeight))
	assert.Equal(t, controlBlockSize+3*8294400, RegionSize(DefaultWidth, DefaultHeight))
}
