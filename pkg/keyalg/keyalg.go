// Package keyalg implements the key-derivation algebra that turns one
// secret (a keymaker's private key, or a gate's base key) into every
// card-level AES key used by pkg/cardmodel, plus the asymmetric
// encrypt/decrypt primitives used for gate and master files.
//
// The keyed-PRF is BLAKE2b used in keyed mode, domain-separated by an
// 8-byte context string and counter-driven by the 64-bit packed token
// id, following the reference design. It is not required to be
// bit-compatible with any other implementation (unlike the crypto_box
// wire format below, which is) so it is built directly on
// golang.org/x/crypto/blake2b's keyed-hash constructor rather than
// reimplementing libsodium's internal salt/personal layout.
package keyalg

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyError reports a failure in the asymmetric-key algebra: an all-zero
// secret scalar, a failed scalar multiplication, a PRF or randomness
// failure, or a ciphertext that is too short or fails authentication.
type KeyError struct {
	Msg   string
	Cause error
}

func (e *KeyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("keyalg: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("keyalg: %s", e.Msg)
}

func (e *KeyError) Unwrap() error { return e.Cause }

const (
	contextRootKey = "rootkey\x00"
	contextGate    = "gate"
)

// GenerateSecretKey produces a fresh random 32-byte Curve25519 scalar.
func GenerateSecretKey() ([32]byte, error) {
	var sk [32]byte
	if _, err := io.ReadFull(rand.Reader, sk[:]); err != nil {
		return sk, &KeyError{Msg: "generating secret key", Cause: err}
	}
	return sk, nil
}

// PubFromSecret computes the Curve25519 public key for sk, failing with
// KeyError if sk is the all-zero scalar (the only case golang.org/x/crypto
// /curve25519 cannot already reject structurally).
func PubFromSecret(sk [32]byte) ([32]byte, error) {
	if isAllZero(sk[:]) {
		return [32]byte{}, &KeyError{Msg: "secret key is all-zero"}
	}
	var pk [32]byte
	out, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return [32]byte{}, &KeyError{Msg: "scalar multiplication", Cause: err}
	}
	copy(pk[:], out)
	return pk, nil
}

// PackTokenID packs a 7-byte DESFire token id into a big-endian 64-bit
// integer, high byte zero, for use as a derivation counter.
func PackTokenID(tokenID [7]byte) uint64 {
	var buf [8]byte
	copy(buf[1:], tokenID[:])
	return binary.BigEndian.Uint64(buf[:])
}

func prf(secret []byte, context string, counter uint64, out []byte) error {
	h, err := blake2b.New(len(out), secret)
	if err != nil {
		return err
	}
	h.Write([]byte(context))
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], counter)
	h.Write(ctr[:])
	copy(out, h.Sum(nil))
	return nil
}

// DeriveTokenRootKey derives the AES128 key for key slot 0 of the card's
// PICC root, binding it to the issuing keymaker's secret and the card's
// token id.
func DeriveTokenRootKey(keymakerSecret [32]byte, tokenID [7]byte) ([16]byte, error) {
	var out [16]byte
	if err := prf(keymakerSecret[:], contextRootKey, PackTokenID(tokenID), out[:]); err != nil {
		return out, &KeyError{Msg: "deriving token root key", Cause: err}
	}
	return out, nil
}

// gateContext builds the "gate" + u32-le(n) context string shared by
// derive_gate_app_master_key and derive_gate_token_key.
func gateContext(n uint32) string {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	return contextGate + string(buf[:])
}

// DeriveGateAppMasterKey derives the AES128 key for key slot 0 of a gate
// application, keyed off the keymaker's secret and the application's
// ordinal position in the gate-app range.
func DeriveGateAppMasterKey(keymakerSecret [32]byte, tokenID [7]byte, appOrdinal uint32) ([16]byte, error) {
	var out [16]byte
	if err := prf(keymakerSecret[:], gateContext(appOrdinal), PackTokenID(tokenID), out[:]); err != nil {
		return out, &KeyError{Msg: "deriving gate app master key", Cause: err}
	}
	return out, nil
}

// DeriveGateTokenKey derives the AES128 key for a specific key slot of a
// gate application from the gate's own base key. gateID is the full
// reconstructed gate id (app ordinal and key number combined by the
// caller, see cardmodel.GateIDFromOrdinalAndKeyNo).
func DeriveGateTokenKey(gateBaseKey [32]byte, tokenID [7]byte, gateID uint32) ([16]byte, error) {
	var out [16]byte
	if err := prf(gateBaseKey[:], gateContext(gateID), PackTokenID(tokenID), out[:]); err != nil {
		return out, &KeyError{Msg: "deriving gate token key", Cause: err}
	}
	return out, nil
}

// EncryptFor encrypts msg for peerPK under authenticated public-key
// encryption with a fresh ephemeral nonce, using myPriv as sender
// identity. The wire format is nonce(24) || mac(16) || ciphertext,
// matching the crypto_box_easy layout the reference implementation uses
// (MAC immediately precedes ciphertext; the nonce is carried alongside,
// not interleaved into it).
func EncryptFor(myPriv, peerPK [32]byte, msg []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, &KeyError{Msg: "generating nonce", Cause: err}
	}
	sealed := box.Seal(nil, msg, &nonce, &peerPK, &myPriv)
	out := make([]byte, 0, 24+len(sealed))
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptFrom opens a ciphertext produced by EncryptFor(myPriv's peer,
// peerPK=my pk, msg), verifying it was sent by the holder of peerSK's
// counterpart. Returns crypto_error-class failure (via KeyError) on
// truncated input or authentication failure.
func DecryptFrom(mySecret, peerPK [32]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24+box.Overhead {
		return nil, &KeyError{Msg: "ciphertext shorter than nonce+mac"}
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	msg, ok := box.Open(nil, ciphertext[24:], &nonce, &peerPK, &mySecret)
	if !ok {
		return nil, &KeyError{Msg: "authentication failed"}
	}
	return msg, nil
}

// BlindCheckCiphertext re-encrypts plaintext under the same nonce
// embedded in ciphertext and compares MACs, letting a caller verify that
// ciphertext decrypts to plaintext without ever calling DecryptFrom (and
// thus without needing mySecret at all beyond what's needed to
// reproduce the same shared secret). It returns false, not an error, for
// any mismatch including malformed input.
func BlindCheckCiphertext(mySecret, peerPK [32]byte, ciphertext, plaintext []byte) bool {
	if len(ciphertext) < 24+box.Overhead {
		return false
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	resealed := box.Seal(nil, plaintext, &nonce, &peerPK, &mySecret)
	if len(resealed) != len(ciphertext)-24 {
		return false
	}
	return constantTimeEqual(resealed[:box.Overhead], ciphertext[24:24+box.Overhead])
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
