package rpc

import (
	"fmt"
	"time"

	"github.com/clavisys/keycard/pkg/channel"
)

// sessionLinkErr wraps a channel-layer failure as the rpc.Kind the rest
// of the package already reports transport failures under.
func sessionLinkErr(err error) error {
	return newErr(KindChannelError, err, "channel session")
}

// TargetLink adapts an established channel.Session, in the target
// (gate) role, into the Link a Bridge's ServeLoop drives: receive the
// encrypted command frame, decrypt; encrypt the response, send.
type TargetLink struct {
	Session *channel.Session
	Target  channel.Target
	Timeout time.Duration
}

func (l *TargetLink) ReceiveCommand() ([]byte, error) {
	frame, err := l.Target.Receive(l.Timeout)
	if err != nil {
		return nil, sessionLinkErr(err)
	}
	plain, err := l.Session.Decrypt(frame)
	if err != nil {
		return nil, sessionLinkErr(err)
	}
	return plain, nil
}

func (l *TargetLink) SendResponse(frame []byte) error {
	ct, err := l.Session.Encrypt(frame)
	if err != nil {
		return sessionLinkErr(err)
	}
	if err := l.Target.Send(ct, l.Timeout); err != nil {
		return sessionLinkErr(err)
	}
	return nil
}

// A gate never originates a command of its own in the v0 surface, so
// these two verbs are unused by ServeLoop and exist only to satisfy Link.
func (l *TargetLink) SendCommand(frame []byte) error {
	return fmt.Errorf("rpc: TargetLink does not originate commands")
}

func (l *TargetLink) ReceiveResponse() ([]byte, error) {
	return nil, fmt.Errorf("rpc: TargetLink does not originate commands")
}

// InitiatorLink adapts an established channel.Session, in the
// initiator (keymaker) role, into the Link RemoteInvoke/RemoteGetSignature
// drive. The half-duplex transport couples send and receive into one
// round trip (channel.Initiator.Communicate), so SendCommand buffers the
// encrypted frame and ReceiveResponse performs the actual exchange.
type InitiatorLink struct {
	Session *channel.Session
	Peer    channel.Initiator
	Timeout time.Duration

	pending []byte
}

func (l *InitiatorLink) SendCommand(frame []byte) error {
	ct, err := l.Session.Encrypt(frame)
	if err != nil {
		return sessionLinkErr(err)
	}
	l.pending = ct
	return nil
}

func (l *InitiatorLink) ReceiveResponse() ([]byte, error) {
	if l.pending == nil {
		return nil, fmt.Errorf("rpc: ReceiveResponse called without a pending SendCommand")
	}
	resp, err := l.Peer.Communicate(l.pending, l.Timeout)
	l.pending = nil
	if err != nil {
		return nil, sessionLinkErr(err)
	}
	plain, err := l.Session.Decrypt(resp)
	if err != nil {
		return nil, sessionLinkErr(err)
	}
	return plain, nil
}

// A keymaker never serves incoming commands in the v0 surface.
func (l *InitiatorLink) ReceiveCommand() ([]byte, error) {
	return nil, fmt.Errorf("rpc: InitiatorLink does not serve commands")
}

func (l *InitiatorLink) SendResponse(frame []byte) error {
	return fmt.Errorf("rpc: InitiatorLink does not serve commands")
}
