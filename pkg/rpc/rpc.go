// Package rpc implements the signature-typed command bridge that
// rides on top of an established pkg/channel session: commands are
// identified by a UUID string, carry a declared signature, and are
// served from a registration table keyed by that UUID.
package rpc

import (
	"fmt"
	"sync"
)

// Kind enumerates the RPC-layer error taxonomy.
type Kind string

const (
	KindParsingError        Kind = "parsing_error"
	KindNoHandler           Kind = "no_handler"
	KindUnknownCommand      Kind = "unknown_command"
	KindMismatchingSignature Kind = "mismatching_signature"
	KindTransportError      Kind = "transport_error"
	KindChannelError        Kind = "channel_error"
	KindInvalidArgument     Kind = "invalid_argument"
)

// Error is a typed RPC-layer error.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rpc: %s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("rpc: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Handler processes a command's raw argument bytes and returns raw
// result bytes. It is the boxed-function rendering of the
// member-function-pointer command pattern: registration owns a value,
// not a bound method reference.
type Handler func(args []byte) ([]byte, error)

// Command is one registered RPC method.
type Command struct {
	UUID      string
	Signature string
	Handler   Handler
}

// Bridge holds the local command table and dispatches frames received
// over a Link. It is safe for concurrent RegisterCommand calls but
// ServeLoop/RemoteInvoke assume single-threaded use per the core's
// cooperative scheduling model.
type Bridge struct {
	mu       sync.RWMutex
	byUUID   map[string]*Command
	link     Link
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Link is the four-verb transport the bridge drives: send_command /
// receive_response on the calling side, receive_command /
// send_response on the serving side (ServeLoop), each carrying a single
// logical frame already stripped of the NFC-level stroke markers.
type Link interface {
	SendCommand(frame []byte) error
	ReceiveCommand() ([]byte, error)
	SendResponse(frame []byte) error
	ReceiveResponse() ([]byte, error)
}

// NewBridge creates a bridge bound to link.
func NewBridge(link Link) *Bridge {
	return &Bridge{
		byUUID: make(map[string]*Command),
		link:   link,
		stopCh: make(chan struct{}),
	}
}

// RegisterCommand installs a command. Duplicate UUIDs fail with
// invalid_argument.
func (b *Bridge) RegisterCommand(cmd Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.byUUID[cmd.UUID]; exists {
		return newErr(KindInvalidArgument, nil, "duplicate command uuid %q", cmd.UUID)
	}
	c := cmd
	b.byUUID[cmd.UUID] = &c
	return nil
}

// LookupUUID scans the local table for a command with the given
// signature. It fails with mismatching_signature if none match, or
// invalid_argument if more than one does.
func (b *Bridge) LookupUUID(signature string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var found string
	count := 0
	for uuid, cmd := range b.byUUID {
		if cmd.Signature == signature {
			found = uuid
			count++
		}
	}
	switch count {
	case 0:
		return "", newErr(KindMismatchingSignature, nil, "no command with signature %q", signature)
	case 1:
		return found, nil
	default:
		return "", newErr(KindInvalidArgument, nil, "multiple commands share signature %q", signature)
	}
}

// Stop requests ServeLoop to return after its current frame.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}
