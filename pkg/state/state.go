// Package state implements the persistent blob shapes shared by
// the keymaker and the gate: the keymaker's per-gate record, the gate's
// registration blob, and its independent update/GPIO/Wi-Fi settings
// blobs. Every blob is self-delimiting so a reader tolerates growth in
// future versions by refusing to parse unknown trailers.
package state

import "encoding/binary"

// ErrMalformed reports a blob that failed to parse: too short, or a
// length field that overshoots the remaining bytes.
type ErrMalformed struct{ Reason string }

func (e *ErrMalformed) Error() string { return "state: malformed: " + e.Reason }

// GateStatus is the keymaker-side lifecycle state of a gate record.
type GateStatus byte

const (
	StatusUnknown GateStatus = iota
	StatusInitialized
	StatusConfigured
	StatusDeleted
)

// GateRecord is the keymaker-side persisted record for one gate.
type GateRecord struct {
	ID          uint32
	Status      GateStatus
	GatePubKey  [32]byte
	GateBaseKey [32]byte
	Notes       string
}

// Encode renders id(4,le) || status(1) || gate_pk(32) ||
// gate_base_key(32) || len32_le(notes) || notes.
func (r GateRecord) Encode() []byte {
	out := make([]byte, 0, 4+1+32+32+4+len(r.Notes))
	out = appendU32(out, r.ID)
	out = append(out, byte(r.Status))
	out = append(out, r.GatePubKey[:]...)
	out = append(out, r.GateBaseKey[:]...)
	out = appendU32(out, uint32(len(r.Notes)))
	out = append(out, r.Notes...)
	return out
}

// DecodeGateRecord parses the Encode form, failing with *ErrMalformed on
// truncation or an over-long notes field.
func DecodeGateRecord(buf []byte) (GateRecord, error) {
	var r GateRecord
	if len(buf) < 4+1+32+32+4 {
		return r, &ErrMalformed{Reason: "buffer shorter than fixed header"}
	}
	r.ID = binary.LittleEndian.Uint32(buf[0:4])
	r.Status = GateStatus(buf[4])
	copy(r.GatePubKey[:], buf[5:37])
	copy(r.GateBaseKey[:], buf[37:69])
	notesLen := binary.LittleEndian.Uint32(buf[69:73])
	rest := buf[73:]
	if uint64(notesLen) > uint64(len(rest)) {
		return r, &ErrMalformed{Reason: "notes length overshoots remaining bytes"}
	}
	r.Notes = string(rest[:notesLen])
	if len(rest) != int(notesLen) {
		return r, &ErrMalformed{Reason: "trailing bytes after notes"}
	}
	return r, nil
}

// GateRegistration is the gate-side persisted registration blob: the
// gate's id, its keymaker's public key, and the shared base key.
type GateRegistration struct {
	ID              uint32
	KeymakerPubKey  [32]byte
	GateBaseKey     [32]byte
}

// Encode renders id(4,le) || keymaker_pk(32) || gate_base_key(32).
func (r GateRegistration) Encode() []byte {
	out := make([]byte, 0, 4+32+32)
	out = appendU32(out, r.ID)
	out = append(out, r.KeymakerPubKey[:]...)
	out = append(out, r.GateBaseKey[:]...)
	return out
}

func DecodeGateRegistration(buf []byte) (GateRegistration, error) {
	var r GateRegistration
	if len(buf) < 4+32+32 {
		return r, &ErrMalformed{Reason: "buffer shorter than fixed registration shape"}
	}
	r.ID = binary.LittleEndian.Uint32(buf[0:4])
	copy(r.KeymakerPubKey[:], buf[4:36])
	copy(r.GateBaseKey[:], buf[36:68])
	if len(buf) != 68 {
		return r, &ErrMalformed{Reason: "trailing bytes after fixed registration shape"}
	}
	return r, nil
}

// GPIOConfig is the gate's auth-success output action.
type GPIOConfig struct {
	GPIONum    byte
	Level      bool
	HoldTimeMs uint32
}

// Encode renders gpio_num(1) || level(1) || hold_time_ms(4, le).
func (c GPIOConfig) Encode() []byte {
	out := make([]byte, 0, 6)
	out = append(out, c.GPIONum, boolByte(c.Level))
	out = appendU32(out, c.HoldTimeMs)
	return out
}

func DecodeGPIOConfig(buf []byte) (GPIOConfig, error) {
	var c GPIOConfig
	if len(buf) != 6 {
		return c, &ErrMalformed{Reason: "GPIO blob must be exactly 6 bytes"}
	}
	c.GPIONum = buf[0]
	c.Level = buf[1] != 0
	c.HoldTimeMs = binary.LittleEndian.Uint32(buf[2:6])
	return c, nil
}

// UpdateSettings is the gate's update-channel configuration.
type UpdateSettings struct {
	ChannelURL string
	AutoUpdate bool
}

// Encode renders len32_le(channel_url) || channel_url || auto_update(1).
func (s UpdateSettings) Encode() []byte {
	out := make([]byte, 0, 4+len(s.ChannelURL)+1)
	out = appendU32(out, uint32(len(s.ChannelURL)))
	out = append(out, s.ChannelURL...)
	out = append(out, boolByte(s.AutoUpdate))
	return out
}

func DecodeUpdateSettings(buf []byte) (UpdateSettings, error) {
	var s UpdateSettings
	if len(buf) < 4 {
		return s, &ErrMalformed{Reason: "buffer too short for channel url length"}
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	rest := buf[4:]
	if uint64(n) > uint64(len(rest)) {
		return s, &ErrMalformed{Reason: "channel url length overshoots remaining bytes"}
	}
	s.ChannelURL = string(rest[:n])
	rest = rest[n:]
	if len(rest) != 1 {
		return s, &ErrMalformed{Reason: "missing or trailing auto_update byte"}
	}
	s.AutoUpdate = rest[0] != 0
	return s, nil
}

// WifiSettings is the gate's Wi-Fi association credentials.
type WifiSettings struct {
	SSID     string
	Password string
}

// Encode renders len16_le(ssid) || ssid || len16_le(password) || password.
func (w WifiSettings) Encode() []byte {
	out := make([]byte, 0, 2+len(w.SSID)+2+len(w.Password))
	out = appendU16(out, uint16(len(w.SSID)))
	out = append(out, w.SSID...)
	out = appendU16(out, uint16(len(w.Password)))
	out = append(out, w.Password...)
	return out
}

func DecodeWifiSettings(buf []byte) (WifiSettings, error) {
	var w WifiSettings
	if len(buf) < 2 {
		return w, &ErrMalformed{Reason: "buffer too short for ssid length"}
	}
	n := binary.LittleEndian.Uint16(buf[0:2])
	rest := buf[2:]
	if int(n) > len(rest) {
		return w, &ErrMalformed{Reason: "ssid length overshoots remaining bytes"}
	}
	w.SSID = string(rest[:n])
	rest = rest[n:]
	if len(rest) < 2 {
		return w, &ErrMalformed{Reason: "buffer too short for password length"}
	}
	n = binary.LittleEndian.Uint16(rest[0:2])
	rest = rest[2:]
	if int(n) > len(rest) {
		return w, &ErrMalformed{Reason: "password length overshoots remaining bytes"}
	}
	w.Password = string(rest[:n])
	rest = rest[n:]
	if len(rest) != 0 {
		return w, &ErrMalformed{Reason: "trailing bytes after password"}
	}
	return w, nil
}

func appendU32(out []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(out, b[:]...)
}

func appendU16(out []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(out, b[:]...)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
