// Package gateauth implements the gate-side authentication responder:
// on card activation it reads and decrypts the gate's own file,
// verifies the enclosed identity, and fires the GPIO action only on a
// fully verified success.
package gateauth

import (
	"errors"
	"log/slog"

	"github.com/clavisys/keycard/pkg/cardmodel"
	"github.com/clavisys/keycard/pkg/identity"
	"github.com/clavisys/keycard/pkg/keyalg"
)

// Outcome classifies why an authentication attempt did or did not fire
// the GPIO action.
type Outcome int

const (
	// OutcomeGranted: the card decrypted and parsed correctly.
	OutcomeGranted Outcome = iota
	// OutcomeNotOurCard: the gate's application or file is simply
	// missing — an ordinary card that was never enrolled here.
	OutcomeNotOurCard
	// OutcomeTamperSuspected: the raw file was readable but decryption
	// or parsing failed — logged distinctly from OutcomeNotOurCard.
	OutcomeTamperSuspected
	// OutcomeCardAbsent: the card was removed before the exchange
	// completed.
	OutcomeCardAbsent
	// OutcomeCommError: any other card-layer failure (bus errors,
	// unexpected status words).
	OutcomeCommError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeNotOurCard:
		return "not our card"
	case OutcomeTamperSuspected:
		return "tampering suspected"
	case OutcomeCardAbsent:
		return "card absent"
	default:
		return "communication error"
	}
}

// GPIOActuator fires the auth-success output.
type GPIOActuator interface {
	Fire() error
}

// Responder holds the state a gate needs to evaluate a presented card:
// its own identity, its gate id, and the base key it shares with the
// keymaker for this card population.
type Responder struct {
	GateID      cardmodel.GateID
	GateKeyPair *keyalg.KeyPair
	GateBaseKey [32]byte
	KeymakerPub [32]byte
	GPIO        GPIOActuator
}

// Result is the outcome of one authentication attempt.
type Result struct {
	Outcome  Outcome
	Identity identity.Identity
	Err      error
}

// Authenticate runs the full responder flow against card. Every
// outcome, expected negative ones (not-our-card, tampering, absence)
// included, is reported via Result.Outcome; for any outcome other than
// OutcomeGranted, Err carries the underlying error.
func (r *Responder) Authenticate(card cardmodel.Card) Result {
	tokenID, err := card.GetID()
	if err != nil {
		if isCardAbsent(err) {
			return Result{Outcome: OutcomeCardAbsent, Err: err}
		}
		return Result{Outcome: OutcomeCommError, Err: err}
	}

	slotKey, err := keyalg.DeriveGateTokenKey(r.GateBaseKey, tokenID, uint32(r.GateID))
	if err != nil {
		return Result{Outcome: OutcomeCommError, Err: err}
	}

	id, err := cardmodel.ReadEncryptedGateFile(card, r.GateKeyPair.Secret, r.KeymakerPub, r.GateID, slotKey[:], true, false)
	if err != nil {
		if errors.Is(err, cardmodel.ErrAppNotFound) || errors.Is(err, cardmodel.ErrFileNotFound) ||
			errors.Is(err, cardmodel.ErrAppIntegrityError) || errors.Is(err, cardmodel.ErrAuthenticationErr) {
			slog.Info("gate auth: not our card", "gate_id", uint32(r.GateID))
			return Result{Outcome: OutcomeNotOurCard, Err: err}
		}
		if errors.Is(err, cardmodel.ErrCryptoError) || errors.Is(err, cardmodel.ErrMalformed) {
			slog.Warn("gate auth: tampering suspected", "gate_id", uint32(r.GateID))
			return Result{Outcome: OutcomeTamperSuspected, Err: err}
		}
		if isCardAbsent(err) {
			return Result{Outcome: OutcomeCardAbsent, Err: err}
		}
		return Result{Outcome: OutcomeCommError, Err: err}
	}

	if err := r.GPIO.Fire(); err != nil {
		slog.Error("gate auth: GPIO fire failed after verified authentication", "err", err)
		return Result{Outcome: OutcomeCommError, Identity: id, Err: err}
	}

	slog.Info("gate auth: access granted", "gate_id", uint32(r.GateID), "holder", id.Holder)
	return Result{Outcome: OutcomeGranted, Identity: id}
}

func isCardAbsent(err error) bool {
	var cmErr *cardmodel.Error
	if errors.As(err, &cmErr) {
		return cmErr.Kind == cardmodel.KindControllerError
	}
	return false
}
