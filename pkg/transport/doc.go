// Package transport implements a lock-free, cross-process, latest-wins
// frame transport over a named shared memory region.
//
// Layout
//
// Each channel is one contiguous region: a 64-byte control block followed by
// three fixed-size frame slots. The control block's byte layout is identical
// in every process that maps it; all structure inside the region is
// expressed as offsets, never pointers.
//
// Protocol
//   - Exactly one producer process and one consumer process per channel.
//   - Every control block field has a single designated writer.
//   - Publish copies into slot writeIndex, then advances writeIndex; the
//     index store is the publishing store the consumer's index load pairs
//     with. Go's sync/atomic is sequentially consistent, which covers the
//     acquire/release ordering the protocol needs.
//   - AcquireLatest always reads slot (writeIndex-1) mod 3, skipping any
//     frames published since the previous read. The transport is lossy under
//     load: droppedFrameCounter is telemetry, never backpressure.
//   - A consumer that falls more than two full slot cycles behind inside a
//     single AcquireLatest copy can observe a torn frame. The three-slot
//     protocol accepts this instead of paying for per-slot version stamps;
//     at 60 Hz with ~8 MB copies the window is pathological.
//
// The pause handshake is a cooperative two-flag protocol (pauseRequested is
// consumer-owned, producerPaused is producer-owned) that lets the consumer
// quiesce the producer before reconfiguration. It is advisory, not a lock.
package transport
