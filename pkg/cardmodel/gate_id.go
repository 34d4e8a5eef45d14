package cardmodel

// AppID is a 3-byte DESFire application identifier, big-endian as stored
// on the wire.
type AppID [3]byte

func (a AppID) packed() uint32 {
	return uint32(a[0])<<16 | uint32(a[1])<<8 | uint32(a[2])
}

func appIDFromPacked(v uint32) AppID {
	return AppID{byte(v >> 16), byte(v >> 8), byte(v)}
}

// GateID identifies a gate. It maps bijectively onto a (AppID, file id)
// pair within the reserved gate-application range.
type GateID uint32

const (
	AidRangeBegin uint32 = 0xF51000
	AidRangeEnd   uint32 = 0xF55000
	GatesPerApp   uint32 = 13

	// NoGate is the sentinel meaning "no gate".
	NoGate GateID = GateID(^uint32(0))

	// MaxGateID is one past the highest representable gate id: the
	// gate-app range holds (AidRangeEnd-AidRangeBegin) apps, each with
	// GatesPerApp file slots, so the highest valid id is
	// (AidRangeEnd-AidRangeBegin-1)*GatesPerApp + (GatesPerApp-1).
	MaxGateID = GateID((AidRangeEnd - AidRangeBegin) * GatesPerApp)
)

// AID returns the application id that hosts this gate's file.
func (g GateID) AID() AppID {
	return appIDFromPacked(AidRangeBegin + uint32(g)/GatesPerApp)
}

// FID returns the file id within AID() that holds this gate's data.
func (g GateID) FID() byte {
	return byte(1 + uint32(g)%GatesPerApp)
}

// KeyNo returns the key number that must authenticate to read this
// gate's file; it is numerically equal to FID().
func (g GateID) KeyNo() byte { return g.FID() }

// AppOrdinal returns the zero-based index of this gate's application
// within the gate-app range, used as the counter in gate_app_master_key
// derivation.
func (g GateID) AppOrdinal() uint32 { return uint32(g) / GatesPerApp }

// IsGateApp reports whether aid falls inside the reserved gate range.
func IsGateApp(aid AppID) bool {
	p := aid.packed()
	return p >= AidRangeBegin && p < AidRangeEnd
}

// IsGatePair reports whether (aid, fid) is a valid gate application/file
// pairing.
func IsGatePair(aid AppID, fid byte) bool {
	return IsGateApp(aid) && fid >= 1 && uint32(fid) <= GatesPerApp
}

// GateIDFromAppFile reconstructs a GateID from its (AppID, fid) encoding.
// ok is false if the pair does not lie in the gate range.
func GateIDFromAppFile(aid AppID, fid byte) (id GateID, ok bool) {
	if !IsGatePair(aid, fid) {
		return 0, false
	}
	ordinal := aid.packed() - AidRangeBegin
	return GateID(ordinal*GatesPerApp + uint32(fid) - 1), true
}

// GateIDFromOrdinalAndKeyNo reconstructs a GateID from a gate app's
// ordinal (its position in the gate-app range) and the key number within
// it, as used by derive_gate_token_key where the caller already knows
// the app ordinal it authenticated against.
func GateIDFromOrdinalAndKeyNo(ordinal uint32, keyNo byte) GateID {
	return GateID(ordinal*GatesPerApp + uint32(keyNo) - 1)
}

// MasterAID is the lowest-indexed gate app, reused as the master
// application that holds the identity master file.
var MasterAID = appIDFromPacked(AidRangeBegin)
