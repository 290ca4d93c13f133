// Package crypto implements the fixed-overhead authenticated envelope
// that wraps every plaintext IP packet before it goes on the wire.
package crypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// nonceSize is the ChaCha20-Poly1305 nonce length, sent in the
	// clear ahead of the ciphertext.
	nonceSize = chacha20poly1305.NonceSize

	// OverheadLen is how much larger a wire datagram is than the
	// plaintext packet it carries: the nonce plus the Poly1305 tag.
	OverheadLen = nonceSize + chacha20poly1305.Overhead

	// ZeroBytes is the scratch padding at the front of every packet
	// buffer, following the NaCl/libsodium secretbox ZEROBYTES
	// convention so plaintext and ciphertext can share one buffer.
	ZeroBytes = 32

	// PacketOffset is where the wire ciphertext begins within a
	// buffer whose first ZeroBytes are reserved scratch space.
	PacketOffset = ZeroBytes - OverheadLen
)

func init() {
	if PacketOffset <= 0 {
		panic("crypto: ZeroBytes must exceed OverheadLen")
	}
}

// ErrAuthFailed is returned by Decrypt when a datagram does not
// authenticate: corrupted, truncated, or wrong-password traffic all
// produce this single error.
var ErrAuthFailed = errors.New("crypto: authentication failed")

const (
	clientToServerLabel = "shadowtun client-to-server"
	serverToClientLabel = "shadowtun server-to-client"
)

// Envelope wraps and unwraps plaintext IP packets into the
// authenticated-and-encrypted wire format. Both peers derive their
// keys from the same password; there is no key exchange. The send and
// receive directions use distinct keys (HKDF-expanded from the
// password hash with direction labels) so a nonce counter can never
// repeat under the same key even though both peers start counting
// from zero. Encrypt and Decrypt touch disjoint fields (sendAEAD/
// sendNonce versus recvAEAD), so one goroutine may call Encrypt while
// another calls Decrypt; neither method is safe to call concurrently
// with itself.
type Envelope struct {
	sendAEAD  cipher.AEAD
	recvAEAD  cipher.AEAD
	sendNonce counter
}

// NewEnvelope derives per-direction keys from password and builds an
// envelope for one tunnel's lifetime. isServer selects which label is
// used for sending vs receiving so the two ends agree.
func NewEnvelope(password []byte, isServer bool) (*Envelope, error) {
	master := sha256.Sum256(password)

	sendLabel, recvLabel := clientToServerLabel, serverToClientLabel
	if isServer {
		sendLabel, recvLabel = serverToClientLabel, clientToServerLabel
	}

	sendKey, err := deriveKey(master[:], sendLabel)
	if err != nil {
		return nil, err
	}
	recvKey, err := deriveKey(master[:], recvLabel)
	if err != nil {
		return nil, err
	}

	sendAEAD, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, err
	}
	recvAEAD, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, err
	}

	return &Envelope{sendAEAD: sendAEAD, recvAEAD: recvAEAD}, nil
}

func deriveKey(master []byte, label string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, []byte(label))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt reads plaintext from in[ZeroBytes:ZeroBytes+plaintextLen]
// and writes the wire datagram into
// out[PacketOffset:PacketOffset+OverheadLen+plaintextLen]. Both
// buffers must be at least ZeroBytes+plaintextLen long and must have
// had their first ZeroBytes zeroed once at allocation.
func (e *Envelope) Encrypt(out, in []byte, plaintextLen int) error {
	wireLen := PacketOffset + OverheadLen + plaintextLen
	if len(out) < wireLen || len(in) < ZeroBytes+plaintextLen {
		return errors.New("crypto: buffer too small")
	}
	if e.sendNonce.exhausted() {
		return errNonceExhausted
	}

	nonce := e.sendNonce.next()
	copy(out[PacketOffset:PacketOffset+nonceSize], nonce[:])

	plaintext := in[ZeroBytes : ZeroBytes+plaintextLen]
	dst := out[PacketOffset+nonceSize : PacketOffset+nonceSize]
	e.sendAEAD.Seal(dst, nonce[:], plaintext, nil)
	return nil
}

// Decrypt reverses Encrypt. ciphertextLen is OverheadLen+plaintextLen,
// the number of bytes available at in[PacketOffset:]. On success it
// writes the recovered plaintext into out[ZeroBytes:] and returns its
// length. The only failure is ErrAuthFailed.
func (e *Envelope) Decrypt(out, in []byte, ciphertextLen int) (int, error) {
	if ciphertextLen < OverheadLen {
		return 0, ErrAuthFailed
	}
	if len(in) < PacketOffset+ciphertextLen {
		return 0, ErrAuthFailed
	}
	wire := in[PacketOffset : PacketOffset+ciphertextLen]
	nonce := wire[:nonceSize]
	sealed := wire[nonceSize:]

	plaintextLen := ciphertextLen - OverheadLen
	if len(out) < ZeroBytes+plaintextLen {
		return 0, ErrAuthFailed
	}
	dst := out[ZeroBytes:ZeroBytes]
	_, err := e.recvAEAD.Open(dst, nonce, sealed, nil)
	if err != nil {
		return 0, ErrAuthFailed
	}
	return plaintextLen, nil
}
