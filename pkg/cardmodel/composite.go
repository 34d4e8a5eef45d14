package cardmodel

import (
	"errors"
	"log/slog"

	"github.com/clavisys/keycard/pkg/identity"
	"github.com/clavisys/keycard/pkg/keyalg"
)

// numKeysAES packs a DESFire application's key count with the AES128
// cipher-type flag set (the reference driver's high bit convention).
func numKeysAES(n uint32) byte {
	return 0x80 | byte(n)
}

// Deploy formats the PICC (trying the factory-default key, then each of
// previousKeys in order), installs a fresh token_root_key derived from
// keymaker's secret and the card's token id, creates the master
// application, and writes the encrypted master file holding id. It is
// all-or-nothing from the caller's viewpoint: any step failing leaves
// the card in a state a subsequent Deploy call can still recover, since
// every step re-selects and re-authenticates from scratch.
func Deploy(card Card, keymaker *keyalg.KeyPair, id identity.Identity, previousKeys [][]byte) ([7]byte, error) {
	var tokenID [7]byte

	if err := card.SelectApplication(rootAID); err != nil {
		return tokenID, err
	}
	tokenID, err := card.GetID()
	if err != nil {
		return tokenID, err
	}

	candidates := append([][]byte{zeroAES128}, previousKeys...)
	var lastErr error
	authenticated := false
	for _, cand := range candidates {
		if err := card.Authenticate(0, cand); err == nil {
			authenticated = true
			break
		} else {
			lastErr = err
		}
	}
	if !authenticated {
		return tokenID, newErr(KindAuthenticationErr, lastErr, "no default or previous root key authenticated")
	}

	if err := card.FormatPICC(); err != nil {
		return tokenID, err
	}

	rootKey, err := keyalg.DeriveTokenRootKey(keymaker.Secret, tokenID)
	if err != nil {
		return tokenID, newErr(KindCryptoError, err, "deriving token root key")
	}

	if err := card.SelectApplication(rootAID); err != nil {
		return tokenID, err
	}
	if err := card.Authenticate(0, zeroAES128); err != nil {
		return tokenID, err
	}
	if err := card.ChangeKey(0, rootKey[:], zeroAES128, 1); err != nil {
		return tokenID, err
	}

	if err := card.SelectApplication(rootAID); err != nil {
		return tokenID, err
	}
	if err := card.Authenticate(0, rootKey[:]); err != nil {
		return tokenID, err
	}
	if err := card.CreateApplication(MasterAID, AppKeySettings, numKeysAES(GatesPerApp)); err != nil {
		return tokenID, err
	}

	// MasterAID doubles as gate-app ordinal 0 (see MasterAID's doc
	// comment), so its key 0 must carry the same value enroll_gate
	// would derive and install for that ordinal, not the PICC root key:
	// otherwise enrolling a gate that lands in this app could never
	// authenticate against the key the master file itself was written
	// under.
	masterAppKey, err := keyalg.DeriveGateAppMasterKey(keymaker.Secret, tokenID, 0)
	if err != nil {
		return tokenID, newErr(KindCryptoError, err, "deriving master app key")
	}
	if err := card.SelectApplication(MasterAID); err != nil {
		return tokenID, err
	}
	if err := card.Authenticate(0, zeroAES128); err != nil {
		return tokenID, err
	}
	if err := card.ChangeKey(0, masterAppKey[:], zeroAES128, 1); err != nil {
		return tokenID, err
	}

	if err := WriteEncryptedMasterFile(card, keymaker, masterAppKey[:], id, false); err != nil {
		return tokenID, err
	}

	slog.Info("card deployed", "token_id", tokenID)
	return tokenID, nil
}

// GateSecInfo is everything a keymaker needs to enroll a gate: its id,
// its base key (shared secret from registration), and its public key.
type GateSecInfo struct {
	GateID      GateID
	GateBaseKey [32]byte
	PublicKey   [32]byte
}

// EnrollGate verifies the master file's identity matches id, ensures
// the gate's application exists (creating it if absent), rotates the
// gate's slot key from its factory-default value to the value derived
// from GateBaseKey, and writes the encrypted gate file.
func EnrollGate(card Card, keymaker *keyalg.KeyPair, gate GateSecInfo, id identity.Identity) error {
	if err := card.SelectApplication(rootAID); err != nil {
		return err
	}
	tokenID, err := card.GetID()
	if err != nil {
		return err
	}
	masterAppKey, err := keyalg.DeriveGateAppMasterKey(keymaker.Secret, tokenID, 0)
	if err != nil {
		return newErr(KindCryptoError, err, "deriving master app key")
	}

	existing, err := ReadEncryptedMasterFile(card, keymaker, masterAppKey[:], true, true)
	if err != nil {
		return err
	}
	if existing.Canonical() != id.Canonical() {
		return newErr(KindParameterError, nil, "master file identity does not match the requested identity")
	}

	appMasterKey, err := keyalg.DeriveGateAppMasterKey(keymaker.Secret, tokenID, gate.GateID.AppOrdinal())
	if err != nil {
		return newErr(KindCryptoError, err, "deriving gate app master key")
	}

	appExisted := true
	if r := CheckGateApp(card, gate.GateID); r.Err != nil && !errors.Is(r.Err, ErrAppNotFound) {
		return r.Err
	} else if !r.Exists {
		appExisted = false
		rootKey, err := keyalg.DeriveTokenRootKey(keymaker.Secret, tokenID)
		if err != nil {
			return newErr(KindCryptoError, err, "deriving token root key")
		}
		if err := card.SelectApplication(rootAID); err != nil {
			return err
		}
		if err := card.Authenticate(0, rootKey[:]); err != nil {
			return err
		}
		if err := card.CreateApplication(gate.GateID.AID(), AppKeySettings, numKeysAES(GatesPerApp)); err != nil {
			return err
		}
	}

	// A brand-new app's key 0 is still the factory-default all-zero
	// value; an app that predates this gate (another gate in the same
	// app already enrolled, or the master app itself) already carries
	// appMasterKey. Try the derived key first and only fall back to
	// rotating the factory default when this is the first gate in the
	// group.
	if err := card.SelectApplication(gate.GateID.AID()); err != nil {
		return err
	}
	if err := card.Authenticate(0, appMasterKey[:]); err != nil {
		if !appExisted && errors.Is(err, ErrAuthenticationErr) {
			if err := card.Authenticate(0, zeroAES128); err != nil {
				return err
			}
			if err := card.ChangeKey(0, appMasterKey[:], zeroAES128, 1); err != nil {
				return err
			}
			// Changing key 0 ends the session; log in again under the new key.
			if err := card.Authenticate(0, appMasterKey[:]); err != nil {
				return err
			}
		} else {
			return err
		}
	}
	targetKey, err := keyalg.DeriveGateTokenKey(gate.GateBaseKey, tokenID, uint32(gate.GateID))
	if err != nil {
		return newErr(KindCryptoError, err, "deriving gate token key")
	}
	if err := card.ChangeKey(gate.GateID.KeyNo(), targetKey[:], zeroAES128, 1); err != nil {
		return err
	}

	pub := GatePubInfo{GateID: gate.GateID, PublicKey: gate.PublicKey}
	if err := WriteEncryptedGateFile(card, keymaker, pub, id, false); err != nil {
		return err
	}

	slog.Info("gate enrolled", "gate_id", uint32(gate.GateID))
	return nil
}

// UnenrollGate resets the slot key to its factory-default value and
// deletes the slot's file, tolerating its absence. Resetting the key
// back to default requires re-authenticating at the target slot itself
// (see the key-rotation ordering note): a cross-slot change from key 0
// can set a key to a new value, but only the key itself may roll itself
// back to the shared default.
func UnenrollGate(card Card, keymaker *keyalg.KeyPair, gate GateSecInfo) error {
	if err := card.SelectApplication(rootAID); err != nil {
		return err
	}
	tokenID, err := card.GetID()
	if err != nil {
		return err
	}

	if err := card.SelectApplication(gate.GateID.AID()); err != nil {
		if errors.Is(err, ErrAppNotFound) {
			return nil
		}
		return err
	}

	currentKey, err := keyalg.DeriveGateTokenKey(gate.GateBaseKey, tokenID, uint32(gate.GateID))
	if err != nil {
		return newErr(KindCryptoError, err, "deriving gate token key")
	}
	if err := card.Authenticate(gate.GateID.KeyNo(), currentKey[:]); err == nil {
		if err := card.ChangeKey(gate.GateID.KeyNo(), zeroAES128, currentKey[:], 0); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrAuthenticationErr) {
		return err
	}

	appMasterKey, err := keyalg.DeriveGateAppMasterKey(keymaker.Secret, tokenID, gate.GateID.AppOrdinal())
	if err != nil {
		return newErr(KindCryptoError, err, "deriving gate app master key")
	}
	if err := DeleteGateFile(card, gate.GateID, appMasterKey[:]); err != nil {
		return err
	}

	slog.Info("gate unenrolled", "gate_id", uint32(gate.GateID))
	return nil
}

// IsDeployedCorrectly runs the full-depth master app/file checks and,
// if correct, returns the token id the keymaker should use to re-derive
// every other key on this card.
func IsDeployedCorrectly(card Card, keymaker *keyalg.KeyPair) (bool, [7]byte, error) {
	var tokenID [7]byte
	if err := card.SelectApplication(rootAID); err != nil {
		return false, tokenID, err
	}
	tokenID, err := card.GetID()
	if err != nil {
		return false, tokenID, err
	}

	if r := CheckMasterApp(card); r.Err != nil {
		return false, tokenID, r.Err
	} else if !r.Exists {
		return false, tokenID, nil
	}
	if r := CheckMasterFile(card); r.Err != nil {
		return false, tokenID, r.Err
	} else if !r.Exists {
		return false, tokenID, nil
	}

	masterAppKey, err := keyalg.DeriveGateAppMasterKey(keymaker.Secret, tokenID, 0)
	if err != nil {
		return false, tokenID, newErr(KindCryptoError, err, "deriving master app key")
	}
	if _, err := ReadEncryptedMasterFile(card, keymaker, masterAppKey[:], false, false); err != nil {
		return false, tokenID, err
	}
	return true, tokenID, nil
}

// IsGateEnrolledCorrectly runs the full-depth gate app/file checks and,
// if correct, returns the token id used to derive the checked keys.
func IsGateEnrolledCorrectly(card Card, keymaker *keyalg.KeyPair, gate GateSecInfo) (bool, [7]byte, error) {
	var tokenID [7]byte
	if err := card.SelectApplication(rootAID); err != nil {
		return false, tokenID, err
	}
	tokenID, err := card.GetID()
	if err != nil {
		return false, tokenID, err
	}

	if r := CheckGateApp(card, gate.GateID); r.Err != nil {
		return false, tokenID, r.Err
	} else if !r.Exists {
		return false, tokenID, nil
	}
	if r := CheckGateFile(card, gate.GateID); r.Err != nil {
		return false, tokenID, r.Err
	} else if !r.Exists {
		return false, tokenID, nil
	}

	// The keymaker holds no gate secret key, so it cannot decrypt the
	// gate file's contents; it instead confirms enrollment by deriving
	// the slot key from GateBaseKey and checking that the card accepts
	// it for authentication at gid.KeyNo() — proof the rotation in
	// EnrollGate actually took.
	slotKey, err := keyalg.DeriveGateTokenKey(gate.GateBaseKey, tokenID, uint32(gate.GateID))
	if err != nil {
		return false, tokenID, newErr(KindCryptoError, err, "deriving gate token key")
	}
	if err := card.SelectApplication(gate.GateID.AID()); err != nil {
		return false, tokenID, err
	}
	if err := card.Authenticate(gate.GateID.KeyNo(), slotKey[:]); err != nil {
		if errors.Is(err, ErrAuthenticationErr) {
			return false, tokenID, nil
		}
		return false, tokenID, err
	}
	return true, tokenID, nil
}
