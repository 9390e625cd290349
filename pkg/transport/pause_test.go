package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollOnce models the producer's per-tick pause handling: confirm a pending
// request, withdraw the acknowledgement once the request is gone, and report
// whether publishing may proceed.
func pollOnce(producer *Channel) bool {
	if producer.CheckPauseRequested() {
		producer.ConfirmPaused()
		return false
	}
	producer.ClearPaused()
	return true
}

func TestPauseHandshake(t *testing.T) {
	producer, consumer := newTestPair(t)
	frame := testFrame(1, producer.FrameSize())

	// Running: no request pending.
	assert.False(t, producer.CheckPauseRequested())
	assert.True(t, pollOnce(producer))
	require.NoError(t, producer.Publish(frame))

	// Consumer requests quiescence; within one poll the producer must ack
	// and stop advancing the counter.
	consumer.RequestPause()
	assert.False(t, consumer.ProducerPaused(), "ack is the producer's, not implied by the request")
	assert.False(t, pollOnce(producer))
	assert.True(t, consumer.ProducerPaused())

	mdBefore, err := producer.Metadata()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.False(t, pollOnce(producer), "producer stays paused while the request stands")
	}
	mdAfter, err := producer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, mdBefore.FrameCounter, mdAfter.FrameCounter)

	// Release: next poll resumes and withdraws the ack.
	consumer.ReleasePause()
	assert.True(t, pollOnce(producer))
	assert.False(t, consumer.ProducerPaused())

	require.NoError(t, producer.Publish(frame))
	mdResumed, err := producer.Metadata()
	require.NoError(t, err)
	assert.Equal(t, mdAfter.FrameCounter+1, mdResumed.FrameCounter)
}

func TestStalePauseFlagsOnFreshProducer(t *testing.T) {
	producer, consumer := newTestPair(t)

	// A producer died while paused: both flags remain set in the region.
	consumer.RequestPause()
	producer.ConfirmPaused()

	// The replacement producer clears only its own flag on start...
	producer.ClearPaused()
	assert.False(t, consumer.ProducerPaused())

	// ...and still honors the standing request on its first poll.
	assert.False(t, pollOnce(producer))
	assert.True(t, consumer.ProducerPaused())
}

func TestClearPauseState(t *testing.T) {
	producer, consumer := newTestPair(t)

	consumer.RequestPause()
	producer.ConfirmPaused()

	producer.ClearPauseState()
	assert.False(t, producer.CheckPauseRequested())
	assert.False(t, consumer.ProducerPaused())
}
