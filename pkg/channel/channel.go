// Package channel implements the authenticated-encryption channel
// between a keymaker (initiator) and a gate (target) over a half-duplex,
// best-effort packet transport. It derives a pair of session keys per
// handshake via X25519 ECDH + HKDF-SHA256, modeled on the same
// construction used for peer-to-peer session setup elsewhere in the
// stack, then encrypts every frame with XChaCha20-Poly1305 under a
// monotonically advancing per-direction nonce.
package channel

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Kind enumerates the channel-layer error taxonomy.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindCommMalformed Kind = "comm_malformed"
	KindHWError      Kind = "hw_error"
	KindAppError     Kind = "app_error"
)

// Error is a typed channel-layer error.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("channel: %s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("channel: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

const hkdfInfo = "keycard-gate-channel-v1"

// Target is the half-duplex receive-then-send side of the transport
// (the gate).
type Target interface {
	Receive(timeout time.Duration) ([]byte, error)
	Send(data []byte, timeout time.Duration) error
}

// Initiator is the send-then-receive side of the transport (the
// keymaker): one round trip per logical exchange.
type Initiator interface {
	Communicate(data []byte, timeout time.Duration) ([]byte, error)
}

// Session is an established, authenticated channel. Frame ordering is
// enforced by the monotonically advancing AEAD nonce: any out-of-order
// or replayed frame fails the tag check and the session must be
// discarded.
type Session struct {
	sendAEAD   chacha20Poly1305
	recvAEAD   chacha20Poly1305
	sendHeader []byte
	recvHeader []byte
	sendCtr    uint64
	recvCtr    uint64
	peerPub    [32]byte
}

type chacha20Poly1305 interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// PeerPublicKey returns the identity exposed by a successful handshake.
func (s *Session) PeerPublicKey() [32]byte { return s.peerPub }

func deriveSessionKeys(localSK, localPK, peerPK [32]byte, initiator bool) (rx, tx []byte, err error) {
	shared, err := curve25519.X25519(localSK[:], peerPK[:])
	if err != nil {
		return nil, nil, newErr(KindAppError, err, "ECDH failed")
	}

	salt := make([]byte, 0, 64)
	if initiator {
		salt = append(salt, localPK[:]...)
		salt = append(salt, peerPK[:]...)
	} else {
		salt = append(salt, peerPK[:]...)
		salt = append(salt, localPK[:]...)
	}

	r := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	both := make([]byte, 64)
	if _, err := io.ReadFull(r, both); err != nil {
		return nil, nil, newErr(KindAppError, err, "key derivation failed")
	}

	// The initiator's outbound key is the target's inbound key and vice
	// versa: both sides derive (a, b) in the same order and assign tx/rx
	// by role so they cross correctly.
	a, b := both[:32], both[32:]
	if initiator {
		return b, a, nil // rx = b (target's tx), tx = a (initiator's tx becomes target's rx)
	}
	return a, b, nil
}

func newAEAD(key []byte) (chacha20Poly1305, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, newErr(KindAppError, err, "building AEAD")
	}
	return aead, nil
}

func nonceFor(header []byte, counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce, header)
	binary.LittleEndian.PutUint64(nonce[len(nonce)-8:], counter)
	return nonce
}

// checkHeader validates a peer-supplied stream header has the
// expected fixed length, rejecting short frames as comm_malformed
// before they ever reach the AEAD.
func checkHeader(h []byte) error {
	if len(h) != chacha20poly1305.NonceSizeX {
		return newErr(KindCommMalformed, nil, "stream header has wrong length %d", len(h))
	}
	return nil
}

func randomHeader() ([]byte, error) {
	h := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, h); err != nil {
		return nil, newErr(KindAppError, err, "generating stream header")
	}
	return h, nil
}

// constantTimeEqual32 compares two 32-byte slices without leaking
// timing. The handshake does not call it.
func constantTimeEqual32(a, b []byte) bool {
	return hmac.Equal(a, b)
}

var errShortFrame = errors.New("channel: frame shorter than AEAD overhead")
