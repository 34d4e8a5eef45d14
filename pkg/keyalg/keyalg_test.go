package keyalg

import (
	"bytes"
	"testing"
)

func mustKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair returned error: %v", err)
	}
	return kp
}

func TestDeriveTokenRootKeyIsDeterministic(t *testing.T) {
	secret := [32]byte{1, 2, 3}
	tokenID := [7]byte{0xA, 0xB, 0xC, 0xD, 0xE, 0xF, 0x10}

	a, err := DeriveTokenRootKey(secret, tokenID)
	if err != nil {
		t.Fatalf("DeriveTokenRootKey returned error: %v", err)
	}
	b, err := DeriveTokenRootKey(secret, tokenID)
	if err != nil {
		t.Fatalf("DeriveTokenRootKey returned error: %v", err)
	}
	if a != b {
		t.Fatalf("derivation is not deterministic: %x != %x", a, b)
	}

	otherToken := [7]byte{0xA, 0xB, 0xC, 0xD, 0xE, 0xF, 0x11}
	c, err := DeriveTokenRootKey(secret, otherToken)
	if err != nil {
		t.Fatalf("DeriveTokenRootKey returned error: %v", err)
	}
	if a == c {
		t.Fatalf("different token ids must not derive the same key")
	}
}

func TestDeriveGateAppMasterKeyVariesByOrdinal(t *testing.T) {
	secret := [32]byte{9, 9, 9}
	tokenID := [7]byte{1, 2, 3, 4, 5, 6, 7}

	k0, err := DeriveGateAppMasterKey(secret, tokenID, 0)
	if err != nil {
		t.Fatalf("DeriveGateAppMasterKey(0) returned error: %v", err)
	}
	k1, err := DeriveGateAppMasterKey(secret, tokenID, 1)
	if err != nil {
		t.Fatalf("DeriveGateAppMasterKey(1) returned error: %v", err)
	}
	if k0 == k1 {
		t.Fatalf("different ordinals must not derive the same key")
	}
}

func TestEncryptForDecryptFromRoundTrip(t *testing.T) {
	sender := mustKeyPair(t)
	receiver := mustKeyPair(t)

	msg := []byte("gate authorization payload")
	ciphertext, err := EncryptFor(sender.Secret, receiver.Public, msg)
	if err != nil {
		t.Fatalf("EncryptFor returned error: %v", err)
	}

	got, err := DecryptFrom(receiver.Secret, sender.Public, ciphertext)
	if err != nil {
		t.Fatalf("DecryptFrom returned error: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, msg)
	}
}

func TestDecryptFromRejectsWrongSender(t *testing.T) {
	sender := mustKeyPair(t)
	receiver := mustKeyPair(t)
	impostor := mustKeyPair(t)

	ciphertext, err := EncryptFor(sender.Secret, receiver.Public, []byte("hello"))
	if err != nil {
		t.Fatalf("EncryptFor returned error: %v", err)
	}
	if _, err := DecryptFrom(receiver.Secret, impostor.Public, ciphertext); err == nil {
		t.Fatalf("expected DecryptFrom to reject a ciphertext attributed to the wrong sender")
	}
}

func TestDecryptFromRejectsTruncatedCiphertext(t *testing.T) {
	receiver := mustKeyPair(t)
	sender := mustKeyPair(t)
	if _, err := DecryptFrom(receiver.Secret, sender.Public, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected DecryptFrom to reject a ciphertext shorter than nonce+mac")
	}
}

func TestBlindCheckCiphertext(t *testing.T) {
	sender := mustKeyPair(t)
	receiver := mustKeyPair(t)
	msg := []byte("access granted")

	ciphertext, err := EncryptFor(sender.Secret, receiver.Public, msg)
	if err != nil {
		t.Fatalf("EncryptFor returned error: %v", err)
	}
	if !BlindCheckCiphertext(receiver.Secret, sender.Public, ciphertext, msg) {
		t.Fatalf("expected BlindCheckCiphertext to confirm the matching plaintext")
	}
	if BlindCheckCiphertext(receiver.Secret, sender.Public, ciphertext, []byte("access denied")) {
		t.Fatalf("expected BlindCheckCiphertext to reject a mismatching plaintext")
	}
}

func TestSealOpenKeyPairRoundTrip(t *testing.T) {
	kp := mustKeyPair(t)
	password := []byte("correct horse battery staple")

	blob, err := SealKeyPair(kp, password)
	if err != nil {
		t.Fatalf("SealKeyPair returned error: %v", err)
	}
	opened, err := OpenKeyPair(blob, password)
	if err != nil {
		t.Fatalf("OpenKeyPair returned error: %v", err)
	}
	if *opened != *kp {
		t.Fatalf("round trip mismatch: got %+v, want %+v", opened, kp)
	}
}

func TestOpenKeyPairRejectsWrongPassword(t *testing.T) {
	kp := mustKeyPair(t)
	blob, err := SealKeyPair(kp, []byte("correct password"))
	if err != nil {
		t.Fatalf("SealKeyPair returned error: %v", err)
	}
	if _, err := OpenKeyPair(blob, []byte("wrong password")); err == nil {
		t.Fatalf("expected OpenKeyPair to reject the wrong password")
	}
}

func TestPubFromSecretRejectsAllZero(t *testing.T) {
	if _, err := PubFromSecret([32]byte{}); err == nil {
		t.Fatalf("expected PubFromSecret to reject the all-zero scalar")
	}
}
