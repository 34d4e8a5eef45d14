package channel

import (
	"crypto/rand"
	"io"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/curve25519"
)

// pipe is an in-memory half-duplex transport implementing both Target
// and Initiator over two buffered channels, enough to drive the
// handshake and a frame exchange without any real network.
type pipe struct {
	toTarget    chan []byte
	toInitiator chan []byte
}

func newPipe() *pipe {
	return &pipe{toTarget: make(chan []byte, 1), toInitiator: make(chan []byte, 1)}
}

func (p *pipe) initiatorSide() *pipeEnd { return &pipeEnd{p: p, send: p.toTarget, recv: p.toInitiator} }
func (p *pipe) targetSide() *pipeEnd    { return &pipeEnd{p: p, send: p.toInitiator, recv: p.toTarget} }

type pipeEnd struct {
	p    *pipe
	send chan []byte
	recv chan []byte
}

func (e *pipeEnd) Communicate(data []byte, timeout time.Duration) ([]byte, error) {
	e.send <- data
	select {
	case resp := <-e.recv:
		return resp, nil
	case <-time.After(timeout):
		return nil, errTimeout
	}
}

func (e *pipeEnd) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case data := <-e.recv:
		return data, nil
	case <-time.After(timeout):
		return nil, errTimeout
	}
}

func (e *pipeEnd) Send(data []byte, timeout time.Duration) error {
	e.send <- data
	return nil
}

var errTimeout = &Error{Kind: KindTimeout, Msg: "test pipe timed out"}

func genKeyPair(t *testing.T) (sk, pk [32]byte) {
	t.Helper()
	if _, err := io.ReadFull(rand.Reader, sk[:]); err != nil {
		t.Fatalf("generating secret key: %v", err)
	}
	out, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("computing public key: %v", err)
	}
	copy(pk[:], out)
	return sk, pk
}

func runHandshake(t *testing.T) (initSK, initPK, targSK, targPK [32]byte, initSess, targSess *Session) {
	t.Helper()
	initSK, initPK = genKeyPair(t)
	targSK, targPK = genKeyPair(t)

	p := newPipe()
	var wg sync.WaitGroup
	wg.Add(2)

	var initErr, targErr error
	go func() {
		defer wg.Done()
		targSess, targErr = HandshakeTarget(p.targetSide(), targSK, targPK, time.Second)
	}()
	go func() {
		defer wg.Done()
		initSess, initErr = HandshakeInitiator(p.initiatorSide(), initSK, initPK, time.Second)
	}()
	wg.Wait()

	if initErr != nil {
		t.Fatalf("HandshakeInitiator returned error: %v", initErr)
	}
	if targErr != nil {
		t.Fatalf("HandshakeTarget returned error: %v", targErr)
	}
	return initSK, initPK, targSK, targPK, initSess, targSess
}

func TestHandshakeEstablishesMutualSession(t *testing.T) {
	_, initPK, _, targPK, initSess, targSess := runHandshake(t)

	if initSess.PeerPublicKey() != targPK {
		t.Fatalf("initiator session recorded wrong peer public key")
	}
	if targSess.PeerPublicKey() != initPK {
		t.Fatalf("target session recorded wrong peer public key")
	}

	plaintext := []byte("hello gate")
	ct, err := initSess.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	got, err := targSess.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestDecryptRejectsTamperedFrame(t *testing.T) {
	_, _, _, _, initSess, targSess := runHandshake(t)

	ct, err := initSess.Encrypt([]byte("access granted"))
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xFF

	if _, err := targSess.Decrypt(tampered); err == nil {
		t.Fatalf("expected Decrypt to reject a tampered frame")
	}
}

func TestDecryptRejectsOutOfOrderFrame(t *testing.T) {
	_, _, _, _, initSess, targSess := runHandshake(t)

	first, err := initSess.Encrypt([]byte("one"))
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	second, err := initSess.Encrypt([]byte("two"))
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	if _, err := targSess.Decrypt(second); err == nil {
		t.Fatalf("expected Decrypt to reject a frame received out of nonce order")
	}
	if _, err := targSess.Decrypt(first); err != nil {
		t.Fatalf("Decrypt of the in-order frame should still succeed: %v", err)
	}
}
