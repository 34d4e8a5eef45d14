package state

import "fmt"

// GateRecordsNamespace is the Store namespace the keymaker keeps its
// per-gate records under.
const GateRecordsNamespace = "gates"

// GateRegistrationNamespace is the Store namespace a gate keeps its own
// registration and settings blobs under.
const GateRegistrationNamespace = "gate"

const (
	RegistrationKey   = "registration"
	GPIOConfigKey     = "gpio"
	UpdateSettingsKey = "update"
	WifiSettingsKey   = "wifi"
	BackendURLKey     = "backend_url"
)

// GateRecordKey renders a gate id as the 8-hex-digit key it is
// persisted under.
func GateRecordKey(id uint32) string {
	return fmt.Sprintf("%08x", id)
}

// SaveGateRecord persists r to store under its 8-hex-digit key.
func SaveGateRecord(store Store, r GateRecord) error {
	if err := store.SetBlob(GateRecordsNamespace, GateRecordKey(r.ID), r.Encode()); err != nil {
		return err
	}
	return store.Commit()
}

// LoadGateRecord reads and decodes the record for id. A decode failure
// surfaces as *StoreError{Kind: StoreParsing}, per the storage-layer
// convention that blob parsing errors map to StoreParsing.
func LoadGateRecord(store Store, id uint32) (GateRecord, error) {
	raw, err := store.GetBlob(GateRecordsNamespace, GateRecordKey(id))
	if err != nil {
		return GateRecord{}, err
	}
	r, err := DecodeGateRecord(raw)
	if err != nil {
		return GateRecord{}, &StoreError{Kind: StoreParsing, Msg: "decoding gate record", Cause: err}
	}
	return r, nil
}

// DeleteGateRecord marks the record deleted by status rather than
// physically erasing the blob, so gate_remove remains visible in the
// keymaker's history; callers that truly want it gone can still call
// store.Erase directly.
func DeleteGateRecord(store Store, id uint32) error {
	r, err := LoadGateRecord(store, id)
	if err != nil {
		return err
	}
	r.Status = StatusDeleted
	return SaveGateRecord(store, r)
}
