package generation

import "strings"

// ChunkAssembler accumulates ordered streamed output for a single job and
// detects end-of-stream.
//
// It assumes order-preserving delivery from a single transport and does not
// deduplicate: delivery is at-least-once, so a reconnect that replays backlog
// appends the replayed chunks again. The buffer only ever grows.
type ChunkAssembler struct {
	buf  strings.Builder
	done bool
}

// NewChunkAssembler returns an empty assembler.
func NewChunkAssembler() *ChunkAssembler {
	return &ChunkAssembler{}
}

// Seed preloads the buffer with previously persisted output, used when
// resuming a job after a restart.
func (a *ChunkAssembler) Seed(buffer string) {
	a.buf.WriteString(buffer)
}

// Append adds one chunk and returns the full buffer. isComplete marks the
// end of the stream; the transports may still replay chunks afterwards and
// those are appended too, per the at-least-once contract.
func (a *ChunkAssembler) Append(chunk string, isComplete bool) string {
	a.buf.WriteString(chunk)
	if isComplete {
		a.done = true
	}
	return a.buf.String()
}

// Done reports whether a chunk with isComplete has been seen.
func (a *ChunkAssembler) Done() bool {
	return a.done
}

// Len returns the accumulated buffer length in bytes.
func (a *ChunkAssembler) Len() int {
	return a.buf.Len()
}
