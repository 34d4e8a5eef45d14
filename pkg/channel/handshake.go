package channel

import "time"

// HandshakeInitiator runs the three-exchange handshake from the
// initiator (keymaker) side over a request/response transport: send
// public key and receive the peer's, derive session keys, then send
// its stream header and receive the peer's.
func HandshakeInitiator(t Initiator, localSK, localPK [32]byte, timeout time.Duration) (*Session, error) {
	resp, err := t.Communicate(localPK[:], timeout)
	if err != nil {
		return nil, newErr(KindTimeout, err, "exchanging public keys")
	}
	if err := checkPubKeyFrame(resp); err != nil {
		return nil, err
	}
	var peerPK [32]byte
	copy(peerPK[:], resp)

	rx, tx, err := deriveSessionKeys(localSK, localPK, peerPK, true)
	if err != nil {
		return nil, err
	}

	sendHeader, err := randomHeader()
	if err != nil {
		return nil, err
	}
	resp, err = t.Communicate(sendHeader, timeout)
	if err != nil {
		return nil, newErr(KindTimeout, err, "exchanging stream headers")
	}
	if err := checkHeader(resp); err != nil {
		return nil, err
	}

	return newSession(tx, rx, sendHeader, resp, peerPK)
}

// HandshakeTarget runs the mirror-image handshake from the target
// (gate) side over a receive-then-send transport.
func HandshakeTarget(t Target, localSK, localPK [32]byte, timeout time.Duration) (*Session, error) {
	req, err := t.Receive(timeout)
	if err != nil {
		return nil, newErr(KindTimeout, err, "receiving public key")
	}
	if err := checkPubKeyFrame(req); err != nil {
		return nil, err
	}
	var peerPK [32]byte
	copy(peerPK[:], req)

	if err := t.Send(localPK[:], timeout); err != nil {
		return nil, newErr(KindTimeout, err, "sending public key")
	}

	rx, tx, err := deriveSessionKeys(localSK, localPK, peerPK, false)
	if err != nil {
		return nil, err
	}

	req, err = t.Receive(timeout)
	if err != nil {
		return nil, newErr(KindTimeout, err, "receiving stream header")
	}
	if err := checkHeader(req); err != nil {
		return nil, err
	}

	sendHeader, err := randomHeader()
	if err != nil {
		return nil, err
	}
	if err := t.Send(sendHeader, timeout); err != nil {
		return nil, newErr(KindTimeout, err, "sending stream header")
	}

	return newSession(tx, rx, sendHeader, req, peerPK)
}

func checkPubKeyFrame(b []byte) error {
	if len(b) != 32 {
		return newErr(KindCommMalformed, nil, "public key frame has wrong length %d", len(b))
	}
	return nil
}

func newSession(txKey, rxKey, sendHeader, recvHeader []byte, peerPK [32]byte) (*Session, error) {
	sendAEAD, err := newAEAD(txKey)
	if err != nil {
		return nil, err
	}
	recvAEAD, err := newAEAD(rxKey)
	if err != nil {
		return nil, err
	}
	return &Session{
		sendAEAD:   sendAEAD,
		recvAEAD:   recvAEAD,
		sendHeader: sendHeader,
		recvHeader: recvHeader,
		peerPub:    peerPK,
	}, nil
}
