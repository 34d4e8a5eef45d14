package channel

// Encrypt seals msg into one frame under the next send nonce and
// advances the send counter. It does no I/O; the caller carries the
// frame over the transport.
func (s *Session) Encrypt(msg []byte) ([]byte, error) {
	nonce := nonceFor(s.sendHeader, s.sendCtr)
	ct := s.sendAEAD.Seal(nil, nonce, msg, nil)
	s.sendCtr++
	return ct, nil
}

// Decrypt verifies and decrypts a received frame, advancing the receive
// nonce counter only on success — a failed frame never desynchronizes
// an otherwise-healthy stream, but the caller must still treat it as
// fatal per the channel's ordering contract.
func (s *Session) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < s.recvAEAD.Overhead() {
		return nil, newErr(KindCommMalformed, errShortFrame, "frame too short")
	}
	nonce := nonceFor(s.recvHeader, s.recvCtr)
	pt, err := s.recvAEAD.Open(nil, nonce, frame, nil)
	if err != nil {
		return nil, newErr(KindAppError, err, "tag verification failed")
	}
	s.recvCtr++
	return pt, nil
}
