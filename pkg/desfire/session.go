package desfire

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Session holds the encryption and MAC keys for an authenticated session,
// plus the command counter and transaction identifier that key every
// secure-messaging exchange until the next Authenticate.
type Session struct {
	kenc   [16]byte
	kmac   [16]byte
	ti     [4]byte
	cmdCtr uint16
	keyNo  byte
}

// KeyNo reports the slot this session authenticated against.
func (s *Session) KeyNo() byte { return s.keyNo }

// AuthError represents an authentication failure at a specific step.
type AuthError struct {
	Step    string
	SW      uint16
	RespLen int
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth %s failed: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("auth %s failed (SW=%04X len=%d)", e.Step, e.SW, e.RespLen)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// AuthenticateEV2First performs EV2First authentication (INS 0x71) with the
// card at the given key number, establishing a fresh Session.
func AuthenticateEV2First(t Transmitter, key []byte, keyNo byte) (*Session, error) {
	apdu1 := []byte{0x90, 0x71, 0x00, 0x00, 0x02, keyNo, 0x00, 0x00}
	resp1, sw, err := Transmit(t, apdu1)
	if err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}
	if sw != SWMoreData || len(resp1) != 16 {
		return nil, &AuthError{Step: "step1", SW: sw, RespLen: len(resp1)}
	}

	iv0 := make([]byte, 16)
	rndB, err := aesCBCDecrypt(key, iv0, resp1)
	if err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}

	rndA := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, rndA); err != nil {
		return nil, &AuthError{Step: "step1", Cause: err}
	}

	rndBRot := rotateLeft1(rndB)
	rndAB := append(append([]byte{}, rndA...), rndBRot...)
	rndABEnc, err := aesCBCEncrypt(key, iv0, rndAB)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}

	apdu2 := make([]byte, 0, 5+len(rndABEnc)+1)
	apdu2 = append(apdu2, 0x90, 0xAF, 0x00, 0x00, 0x20)
	apdu2 = append(apdu2, rndABEnc...)
	apdu2 = append(apdu2, 0x00)
	resp2, sw, err := Transmit(t, apdu2)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}
	if sw != SWDESFireOK || len(resp2) != 32 {
		return nil, &AuthError{Step: "step2", SW: sw, RespLen: len(resp2)}
	}

	dec, err := aesCBCDecrypt(key, iv0, resp2)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}

	ti := dec[:4]
	rndARot := dec[4:20]
	rndACheck := rotateRight1(rndARot)
	if !bytes.Equal(rndACheck, rndA) {
		return nil, &AuthError{Step: "step2", Cause: errors.New("rndA check failed")}
	}

	sv1 := make([]byte, 32)
	sv2 := make([]byte, 32)
	copy(sv1, []byte{0xA5, 0x5A, 0x00, 0x01, 0x00, 0x80})
	copy(sv2, []byte{0x5A, 0xA5, 0x00, 0x01, 0x00, 0x80})
	copy(sv1[6:8], rndA[:2])
	copy(sv2[6:8], rndA[:2])
	for i := 0; i < 6; i++ {
		sv1[8+i] = rndA[2+i] ^ rndB[i]
		sv2[8+i] = rndA[2+i] ^ rndB[i]
	}
	copy(sv1[14:24], rndB[6:16])
	copy(sv2[14:24], rndB[6:16])
	copy(sv1[24:32], rndA[8:16])
	copy(sv2[24:32], rndA[8:16])

	kenc, err := aesCMAC(key, sv1)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}
	kmac, err := aesCMAC(key, sv2)
	if err != nil {
		return nil, &AuthError{Step: "step2", Cause: err}
	}

	s := &Session{keyNo: keyNo}
	copy(s.kenc[:], kenc)
	copy(s.kmac[:], kmac)
	copy(s.ti[:], ti)
	slog.Debug("session established", "key_no", keyNo)
	return s, nil
}

// AuthenticateWithFallback tries the supplied key, then an all-zero
// factory-default key, both at keyNo. It implements the "default key
// plus any caller-supplied previous key" deploy retry chain one level at
// a time; callers chain AuthenticateWithFallback calls across candidate
// previous keys themselves.
func AuthenticateWithFallback(t Transmitter, key []byte, keyNo byte) (*Session, []byte, error) {
	sess, err := AuthenticateEV2First(t, key, keyNo)
	if err == nil {
		return sess, key, nil
	}
	if isAllZero(key) {
		return nil, nil, err
	}
	zero := make([]byte, 16)
	sess, zErr := AuthenticateEV2First(t, zero, keyNo)
	if zErr == nil {
		return sess, zero, nil
	}
	return nil, nil, err
}
