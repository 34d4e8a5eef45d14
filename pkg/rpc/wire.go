package rpc

import "encoding/binary"

// Request op codes distinguishing a user RPC call from a signature
// query within the same command frame, so a receiver can dispatch on
// the leading byte before touching the UUID.
const (
	OpUserCommand    byte = 0x10
	OpQuerySignature byte = 0x11
)

// ServeLoop receives framed requests and replies until Stop is called.
// Each iteration is one full two-stroke exchange from the target's
// point of view: receive the command frame, dispatch, send the
// response frame.
func (b *Bridge) ServeLoop() error {
	for {
		select {
		case <-b.stopCh:
			return nil
		default:
		}

		req, err := b.link.ReceiveCommand()
		if err != nil {
			return newErr(KindTransportError, err, "receiving command frame")
		}

		resp := b.handleRequest(req)

		if err := b.link.SendResponse(resp); err != nil {
			return newErr(KindTransportError, err, "sending response frame")
		}
	}
}

func (b *Bridge) handleRequest(req []byte) []byte {
	if len(req) < 1 {
		return encodeErrorReply(newErr(KindParsingError, nil, "empty request frame"))
	}
	op := req[0]
	body := req[1:]

	switch op {
	case OpQuerySignature:
		uuid, rest, err := readString32(body)
		if err != nil || len(rest) != 0 {
			return encodeErrorReply(newErr(KindParsingError, err, "decoding signature query"))
		}
		b.mu.RLock()
		cmd, ok := b.byUUID[uuid]
		b.mu.RUnlock()
		if !ok {
			return encodeErrorReply(newErr(KindUnknownCommand, nil, "no command registered for uuid %q", uuid))
		}
		return encodeOKReply([]byte(cmd.Signature))

	case OpUserCommand:
		uuid, rest, err := readString32(body)
		if err != nil {
			return encodeErrorReply(newErr(KindParsingError, err, "decoding command uuid"))
		}
		b.mu.RLock()
		cmd, ok := b.byUUID[uuid]
		b.mu.RUnlock()
		if !ok {
			return encodeErrorReply(newErr(KindNoHandler, nil, "no handler for uuid %q", uuid))
		}
		result, err := cmd.Handler(rest)
		if err != nil {
			if rpcErr, ok := err.(*Error); ok {
				return encodeErrorReply(rpcErr)
			}
			return encodeErrorReply(newErr(KindInvalidArgument, err, "handler for %q failed", uuid))
		}
		return encodeOKReply(result)

	default:
		return encodeErrorReply(newErr(KindUnknownCommand, nil, "unknown op code 0x%02x", op))
	}
}

// RemoteInvoke serializes uuid and argBytes, sends a user_command frame,
// and returns the raw result bytes from the matching send_response
// frame.
func (b *Bridge) RemoteInvoke(uuid string, argBytes []byte) ([]byte, error) {
	req := make([]byte, 0, 1+4+len(uuid)+len(argBytes))
	req = append(req, OpUserCommand)
	req = appendString32(req, uuid)
	req = append(req, argBytes...)

	if err := b.link.SendCommand(req); err != nil {
		return nil, newErr(KindTransportError, err, "sending command frame")
	}
	resp, err := b.link.ReceiveResponse()
	if err != nil {
		return nil, newErr(KindTransportError, err, "receiving response frame")
	}
	return decodeReply(resp)
}

// RemoteGetSignature queries the peer's signature for uuid.
func (b *Bridge) RemoteGetSignature(uuid string) (string, error) {
	req := make([]byte, 0, 1+4+len(uuid))
	req = append(req, OpQuerySignature)
	req = appendString32(req, uuid)

	if err := b.link.SendCommand(req); err != nil {
		return "", newErr(KindTransportError, err, "sending signature query")
	}
	resp, err := b.link.ReceiveResponse()
	if err != nil {
		return "", newErr(KindTransportError, err, "receiving signature reply")
	}
	raw, err := decodeReply(resp)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func encodeOKReply(payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload))
	out = append(out, 0x00)
	out = append(out, payload...)
	return out
}

// encodeErrorReply carries the error's Kind as a string rather than a
// fixed code table, so a higher protocol layer (see pkg/gateproto) can
// introduce its own Kind values — unauthorized, invalid_operation — that
// this package never needs to know about, while both sides can still
// tell an RPC-layer failure from a protocol-layer one by the Kind string
// itself.
func encodeErrorReply(err *Error) []byte {
	out := make([]byte, 0, 1+4+len(err.Kind)+4+len(err.Msg))
	out = append(out, 0x01)
	out = appendString32(out, string(err.Kind))
	out = appendString32(out, err.Msg)
	return out
}

func decodeReply(resp []byte) ([]byte, error) {
	if len(resp) < 1 {
		return nil, newErr(KindParsingError, nil, "empty response frame")
	}
	if resp[0] == 0x00 {
		return resp[1:], nil
	}
	kindStr, rest, err := readString32(resp[1:])
	if err != nil {
		return nil, newErr(KindParsingError, err, "decoding error reply kind")
	}
	msg, rest, err := readString32(rest)
	if err != nil || len(rest) != 0 {
		return nil, newErr(KindParsingError, err, "decoding error reply message")
	}
	return nil, &Error{Kind: Kind(kindStr), Msg: msg}
}

func appendString32(out []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	out = append(out, lenBuf[:]...)
	return append(out, s...)
}

func readString32(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, errShortBuffer
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint64(n) > uint64(len(buf)) {
		return "", nil, errLengthOvershoot
	}
	return string(buf[:n]), buf[n:], nil
}

var (
	errShortBuffer     = newErr(KindParsingError, nil, "buffer too short for length prefix")
	errLengthOvershoot = newErr(KindParsingError, nil, "length field overshoots remaining bytes")
)
