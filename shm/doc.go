// Package shm implements the shared-memory primitives used between the host
// and the emulator subprocess.
//
// Each primitive lives in its own named segment: a file under a segment
// directory (normally /dev/shm) mapped MAP_SHARED into both processes. The
// side that produces the segment (the subprocess) creates and initialises it
// and sets a ready flag last; the other side opens it by name and keeps
// retrying with Open until the segment exists and is ready.
//
// # Segment layout
//
//	[0,64)    magic, kind, ready flag, capacity, two kind-specific words
//	[64,128)  producer index (own cache line)
//	[128,192) consumer index (own cache line)
//	[192,...) kind-specific data
//
// Indices are monotonic uint64 counters accessed with sync/atomic. The
// producer owns the write index and the consumer owns the read index, so
// every primitive is single-producer/single-consumer and lock-free.
//
// # Primitives
//
//   - Queue: length-prefixed byte records, never blocks, reports failure
//     when a record does not fit.
//   - RPC: a request queue and a response queue in one segment, with call
//     ids and a caller-side timeout.
//   - Ring: int16 samples, overwrite-oldest when the consumer falls behind.
//   - PixelArray: a frame of uint32 pixels followed by width, height and a
//     frame counter.
package shm
