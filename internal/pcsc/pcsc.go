// Package pcsc is the one concrete cardmodel.Card backend over a real
// PC/SC reader: it establishes a connection, waits for card presence
// events, and exposes the raw APDU transmitter pkg/desfire wraps into
// the Card verb contract.
package pcsc

import (
	"fmt"
	"time"

	"github.com/ebfe/scard"
)

// Connection wraps a PC/SC card connection and implements
// desfire.Transmitter.
type Connection struct {
	ctx       *scard.Context
	Card      *scard.Card
	Reader    string
	ReaderIdx int
}

// ListReaders establishes a throwaway context and returns the attached
// reader names, for CLI reader-selection flags.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}
	defer ctx.Release()
	return ctx.ListReaders()
}

// Connect establishes a connection to the reader at readerIndex.
func Connect(readerIndex int) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("no readers found: %v", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}

	reader := readers[readerIndex]
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	return &Connection{
		ctx:       ctx,
		Card:      card,
		Reader:    reader,
		ReaderIdx: readerIndex,
	}, nil
}

// Close disconnects the card and releases the PC/SC context.
func (c *Connection) Close() {
	if c == nil {
		return
	}
	if c.Card != nil {
		_ = c.Card.Disconnect(scard.LeaveCard)
	}
	if c.ctx != nil {
		_ = c.ctx.Release()
	}
}

// Transmit sends an APDU to the card, implementing desfire.Transmitter.
func (c *Connection) Transmit(apdu []byte) ([]byte, error) {
	if c == nil || c.Card == nil {
		return nil, fmt.Errorf("connection not established")
	}
	return c.Card.Transmit(apdu)
}

// Watcher polls a single reader slot for card insertion/removal events
// via scard.ReaderState, exposed as a blocking call a gate's serve loop
// can call once per cycle.
type Watcher struct {
	ctx    *scard.Context
	states []scard.ReaderState
}

// NewWatcher opens a dedicated context for polling reader, independent
// of any Connection's context so the two can be released separately.
func NewWatcher(reader string) (*Watcher, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}
	return &Watcher{
		ctx: ctx,
		states: []scard.ReaderState{{
			Reader:       reader,
			CurrentState: scard.StateUnaware,
		}},
	}, nil
}

// Close releases the watcher's PC/SC context.
func (w *Watcher) Close() {
	if w == nil || w.ctx == nil {
		return
	}
	_ = w.ctx.Release()
}

// WaitForInsert blocks, polling in poll-sized slices, until a card is
// inserted into the watched reader.
func (w *Watcher) WaitForInsert(poll time.Duration) error {
	for {
		if err := w.ctx.GetStatusChange(w.states, poll); err != nil {
			if err == scard.ErrTimeout {
				continue
			}
			return fmt.Errorf("GetStatusChange: %w", err)
		}
		rs := w.states[0]
		w.states[0].CurrentState = rs.EventState
		if rs.EventState&scard.StatePresent != 0 {
			return nil
		}
	}
}

// WaitForRemove blocks until the watched reader reports the card gone,
// so a gate can debounce re-triggering on the same presented card.
func (w *Watcher) WaitForRemove(poll time.Duration) error {
	for {
		if err := w.ctx.GetStatusChange(w.states, poll); err != nil {
			if err == scard.ErrTimeout {
				continue
			}
			return fmt.Errorf("GetStatusChange: %w", err)
		}
		rs := w.states[0]
		w.states[0].CurrentState = rs.EventState
		if rs.EventState&scard.StateEmpty != 0 {
			return nil
		}
	}
}
