package keyalg

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeyPair is the Curve25519 identity of a keymaker or a gate.
type KeyPair struct {
	Secret [32]byte
	Public [32]byte
}

// GenerateKeyPair creates a fresh identity key pair.
func GenerateKeyPair() (*KeyPair, error) {
	sk, err := GenerateSecretKey()
	if err != nil {
		return nil, err
	}
	pk, err := PubFromSecret(sk)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Secret: sk, Public: pk}, nil
}

const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 1
	saltSize     = 16
)

// SealKeyPair wraps kp's secret key for at-rest persistence behind a
// password-derived key: Argon2id derives a symmetric key from password
// and a fresh salt, and XChaCha20-Poly1305 seals the secret key together
// with the public key. Layout: salt(16) || nonce(24) || sealed(64+16).
func SealKeyPair(kp *KeyPair, password []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("keyalg: generating salt: %w", err)
	}
	key := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("keyalg: building AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keyalg: generating nonce: %w", err)
	}

	plaintext := make([]byte, 0, 64)
	plaintext = append(plaintext, kp.Secret[:]...)
	plaintext = append(plaintext, kp.Public[:]...)
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// OpenKeyPair reverses SealKeyPair. A wrong password or corrupted blob
// both surface as the same authentication failure, by design: there is
// no way to distinguish them without decrypting.
func OpenKeyPair(blob, password []byte) (*KeyPair, error) {
	if len(blob) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("keyalg: sealed key pair too short")
	}
	salt := blob[:saltSize]
	rest := blob[saltSize:]
	nonce := rest[:chacha20poly1305.NonceSizeX]
	sealed := rest[chacha20poly1305.NonceSizeX:]

	key := argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("keyalg: building AEAD: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("keyalg: wrong password or corrupted key file")
	}
	if len(plaintext) != 64 {
		return nil, fmt.Errorf("keyalg: unexpected key pair length %d", len(plaintext))
	}
	kp := &KeyPair{}
	copy(kp.Secret[:], plaintext[:32])
	copy(kp.Public[:], plaintext[32:])
	return kp, nil
}
