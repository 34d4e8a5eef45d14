package cardmodel_test

import (
	"testing"

	"github.com/clavisys/keycard/pkg/cardmodel"
	"github.com/clavisys/keycard/pkg/cardmodel/cardtest"
	"github.com/clavisys/keycard/pkg/identity"
	"github.com/clavisys/keycard/pkg/keyalg"
)

func testKeyPair(t *testing.T) *keyalg.KeyPair {
	t.Helper()
	var sk [32]byte
	for i := range sk {
		sk[i] = byte(i)
	}
	pk, err := keyalg.PubFromSecret(sk)
	if err != nil {
		t.Fatalf("PubFromSecret: %v", err)
	}
	return &keyalg.KeyPair{Secret: sk, Public: pk}
}

func testIdentity() identity.Identity {
	return identity.Identity{
		TokenID:   [7]byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6, 0x07},
		Holder:    "Holder",
		Publisher: "Publisher",
	}
}

func TestDeployThenIsDeployedCorrectly(t *testing.T) {
	card := cardtest.New([7]byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6, 0x07})
	km := testKeyPair(t)
	id := testIdentity()

	tokenID, err := cardmodel.Deploy(card, km, id, nil)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if tokenID != id.TokenID {
		t.Fatalf("got token id %x, want %x", tokenID, id.TokenID)
	}

	ok, gotTokenID, err := cardmodel.IsDeployedCorrectly(card, km)
	if err != nil {
		t.Fatalf("IsDeployedCorrectly: %v", err)
	}
	if !ok {
		t.Fatalf("expected a freshly deployed card to check out")
	}
	if gotTokenID != tokenID {
		t.Fatalf("got token id %x, want %x", gotTokenID, tokenID)
	}
}

func TestDeployRecoversWithPreviousRootKey(t *testing.T) {
	card := cardtest.New([7]byte{1, 2, 3, 4, 5, 6, 7})
	km := testKeyPair(t)
	id := testIdentity()

	if _, err := cardmodel.Deploy(card, km, id, nil); err != nil {
		t.Fatalf("first Deploy: %v", err)
	}

	previousRootKey, err := keyalg.DeriveTokenRootKey(km.Secret, [7]byte{1, 2, 3, 4, 5, 6, 7})
	if err != nil {
		t.Fatalf("DeriveTokenRootKey: %v", err)
	}

	if _, err := cardmodel.Deploy(card, km, id, [][]byte{previousRootKey[:]}); err != nil {
		t.Fatalf("second Deploy with previous root key: %v", err)
	}
}

func TestEnrollGateThenIsGateEnrolledCorrectly(t *testing.T) {
	card := cardtest.New([7]byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6, 0x07})
	km := testKeyPair(t)
	id := testIdentity()

	if _, err := cardmodel.Deploy(card, km, id, nil); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	var gateBaseKey [32]byte
	for i := range gateBaseKey {
		gateBaseKey[i] = byte(0x70 + i)
	}
	gateSK, err := keyalg.GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}
	gatePK, err := keyalg.PubFromSecret(gateSK)
	if err != nil {
		t.Fatalf("PubFromSecret: %v", err)
	}

	gate := cardmodel.GateSecInfo{GateID: 0, GateBaseKey: gateBaseKey, PublicKey: gatePK}
	if err := cardmodel.EnrollGate(card, km, gate, id); err != nil {
		t.Fatalf("EnrollGate: %v", err)
	}

	ok, _, err := cardmodel.IsGateEnrolledCorrectly(card, km, gate)
	if err != nil {
		t.Fatalf("IsGateEnrolledCorrectly: %v", err)
	}
	if !ok {
		t.Fatalf("expected gate 0 to report enrolled")
	}

	if err := cardmodel.UnenrollGate(card, km, gate); err != nil {
		t.Fatalf("UnenrollGate: %v", err)
	}

	ok, _, err = cardmodel.IsGateEnrolledCorrectly(card, km, gate)
	if err != nil {
		t.Fatalf("IsGateEnrolledCorrectly after unenroll: %v", err)
	}
	if ok {
		t.Fatalf("expected gate 0 to report not enrolled after unenroll")
	}
}

func TestUnenrollGateToleratesMissingApp(t *testing.T) {
	card := cardtest.New([7]byte{9, 9, 9, 9, 9, 9, 9})
	km := testKeyPair(t)

	var gateBaseKey [32]byte
	gate := cardmodel.GateSecInfo{GateID: cardmodel.GateID(cardmodel.GatesPerApp + 1), GateBaseKey: gateBaseKey}
	if err := cardmodel.UnenrollGate(card, km, gate); err != nil {
		t.Fatalf("UnenrollGate on a never-enrolled gate should be a no-op, got: %v", err)
	}
}
