package gateauth_test

import (
	"testing"

	"github.com/clavisys/keycard/pkg/cardmodel"
	"github.com/clavisys/keycard/pkg/cardmodel/cardtest"
	"github.com/clavisys/keycard/pkg/gateauth"
	"github.com/clavisys/keycard/pkg/identity"
	"github.com/clavisys/keycard/pkg/keyalg"
)

type fakeGPIO struct{ fired int }

func (g *fakeGPIO) Fire() error { g.fired++; return nil }

func setup(t *testing.T) (*cardtest.Card, *keyalg.KeyPair, *keyalg.KeyPair, cardmodel.GateSecInfo, identity.Identity) {
	t.Helper()
	tokenID := [7]byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6, 0x07}
	card := cardtest.New(tokenID)

	var kmSK [32]byte
	for i := range kmSK {
		kmSK[i] = byte(i)
	}
	kmPK, err := keyalg.PubFromSecret(kmSK)
	if err != nil {
		t.Fatalf("PubFromSecret: %v", err)
	}
	km := &keyalg.KeyPair{Secret: kmSK, Public: kmPK}

	id := identity.Identity{TokenID: tokenID, Holder: "Holder", Publisher: "Publisher"}
	if _, err := cardmodel.Deploy(card, km, id, nil); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	gateSK, err := keyalg.GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}
	gatePK, err := keyalg.PubFromSecret(gateSK)
	if err != nil {
		t.Fatalf("PubFromSecret: %v", err)
	}
	gate := &keyalg.KeyPair{Secret: gateSK, Public: gatePK}

	var baseKey [32]byte
	for i := range baseKey {
		baseKey[i] = byte(0x70 + i)
	}
	sec := cardmodel.GateSecInfo{GateID: 0, GateBaseKey: baseKey, PublicKey: gatePK}
	if err := cardmodel.EnrollGate(card, km, sec, id); err != nil {
		t.Fatalf("EnrollGate: %v", err)
	}

	return card, km, gate, sec, id
}

func TestResponderGrantsOnEnrolledCard(t *testing.T) {
	card, km, gate, sec, id := setup(t)
	gpio := &fakeGPIO{}
	r := &gateauth.Responder{
		GateID:      sec.GateID,
		GateKeyPair: gate,
		GateBaseKey: sec.GateBaseKey,
		KeymakerPub: km.Public,
		GPIO:        gpio,
	}

	res := r.Authenticate(card)
	if res.Outcome != gateauth.OutcomeGranted {
		t.Fatalf("got outcome %v, want granted (err=%v)", res.Outcome, res.Err)
	}
	if res.Identity.Canonical() != id.Canonical() {
		t.Fatalf("got identity %+v, want %+v", res.Identity, id)
	}
	if gpio.fired != 1 {
		t.Fatalf("expected GPIO to fire exactly once, fired %d times", gpio.fired)
	}
}

func TestResponderReportsNotOurCardAfterUnenroll(t *testing.T) {
	card, km, gate, sec, _ := setup(t)
	if err := cardmodel.UnenrollGate(card, km, sec); err != nil {
		t.Fatalf("UnenrollGate: %v", err)
	}
	gpio := &fakeGPIO{}
	r := &gateauth.Responder{
		GateID:      sec.GateID,
		GateKeyPair: gate,
		GateBaseKey: sec.GateBaseKey,
		KeymakerPub: km.Public,
		GPIO:        gpio,
	}

	res := r.Authenticate(card)
	if res.Outcome != gateauth.OutcomeNotOurCard {
		t.Fatalf("got outcome %v, want not-our-card (err=%v)", res.Outcome, res.Err)
	}
	if gpio.fired != 0 {
		t.Fatalf("GPIO must not fire on a rejected card")
	}
}

func TestResponderReportsCardAbsent(t *testing.T) {
	card, km, gate, sec, _ := setup(t)
	card.SetCardAbsent(true)
	gpio := &fakeGPIO{}
	r := &gateauth.Responder{
		GateID:      sec.GateID,
		GateKeyPair: gate,
		GateBaseKey: sec.GateBaseKey,
		KeymakerPub: km.Public,
		GPIO:        gpio,
	}

	res := r.Authenticate(card)
	if res.Outcome != gateauth.OutcomeCardAbsent {
		t.Fatalf("got outcome %v, want card-absent", res.Outcome)
	}
}
