package router

import "math"

// reserveFactor is RESERVE_SHMEM_SIZE from the original (§4.2): a shared
// buffer is sized 5% larger than the payload that last used it, so a
// same-size or slightly larger next payload does not require reallocation.
const reserveFactor = 0.05

// NodeBuffer is the per-node shared-memory-style buffer the ipc transport
// reuses across job replies (§4.2, §5 "Shared resources"). It is owned by
// the Router and keyed by NodeId (§9 "Shared-memory buffer").
type NodeBuffer struct {
	data []byte
}

// Fit returns a slice of cap >= len(payload), growing (and replacing) the
// underlying array only when the current one is too small. On overflow the
// buffer is discarded and reallocated with ceil(size*(1+reserveFactor))
// bytes, per §4.2.
func (b *NodeBuffer) Fit(payload []byte) []byte {
	need := len(payload)
	if cap(b.data) < need {
		grown := int(math.Ceil(float64(need) * (1 + reserveFactor)))
		b.data = make([]byte, grown)
	}
	b.data = b.data[:need]
	copy(b.data, payload)
	return b.data
}

// Release drops the underlying array, matching the teardown-on-event-loop
// requirement in §9 ("destruction runs on the event loop thread before the
// slot is reused").
func (b *NodeBuffer) Release() {
	b.data = nil
}
