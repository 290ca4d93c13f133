package crypto

import (
	"encoding/binary"
	"errors"
)

// counter is a monotonically increasing 96-bit value encoded as a
// 12-byte ChaCha20-Poly1305 nonce (high uint32 || low uint64, both
// big-endian). Each Envelope direction owns exactly one counter and
// is only ever advanced by the goroutine calling Encrypt for that
// direction, so it carries no mutex.
type counter struct {
	low  uint64
	high uint32
	done bool
}

var errNonceExhausted = errors.New("crypto: nonce space exhausted")

// next returns the next nonce value and advances the counter. Once
// the 96-bit space is exhausted it keeps returning the same terminal
// value, which the caller should treat as fatal long before it
// happens in practice.
func (c *counter) next() [nonceSize]byte {
	var out [nonceSize]byte
	binary.BigEndian.PutUint32(out[:4], c.high)
	binary.BigEndian.PutUint64(out[4:], c.low)

	if c.low == ^uint64(0) {
		if c.high == ^uint32(0) {
			c.done = true
		} else {
			c.high++
			c.low = 0
		}
	} else {
		c.low++
	}
	return out
}

// exhausted reports whether the counter has wrapped. There is no
// re-keying, so this is only ever hit in pathological long-lived
// tunnels.
func (c *counter) exhausted() bool {
	return c.done
}
