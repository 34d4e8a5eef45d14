package state

import "testing"

func TestGateRecordEncodeDecodeRoundTrip(t *testing.T) {
	r := GateRecord{
		ID:          0xdeadbeef,
		Status:      StatusConfigured,
		GatePubKey:  [32]byte{1, 2, 3},
		GateBaseKey: [32]byte{4, 5, 6},
		Notes:       "east entrance",
	}
	got, err := DecodeGateRecord(r.Encode())
	if err != nil {
		t.Fatalf("DecodeGateRecord returned error: %v", err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestGateRecordDecodeRejectsTruncatedHeader(t *testing.T) {
	if _, err := DecodeGateRecord(make([]byte, 10)); err == nil {
		t.Fatalf("expected a buffer shorter than the fixed header to be rejected")
	}
}

func TestGateRecordDecodeRejectsOverlongNotesLength(t *testing.T) {
	r := GateRecord{ID: 1, Status: StatusInitialized, Notes: "x"}
	buf := r.Encode()
	// Corrupt the notes-length field to claim more bytes than remain.
	buf[69] = 0xff
	buf[70] = 0xff
	buf[71] = 0xff
	buf[72] = 0xff
	if _, err := DecodeGateRecord(buf); err == nil {
		t.Fatalf("expected an overlong notes length to be rejected")
	}
}

func TestGateRecordDecodeRejectsTrailingBytes(t *testing.T) {
	r := GateRecord{ID: 1, Status: StatusInitialized, Notes: "x"}
	buf := append(r.Encode(), 0x00)
	if _, err := DecodeGateRecord(buf); err == nil {
		t.Fatalf("expected trailing bytes after notes to be rejected")
	}
}

func TestGateRegistrationEncodeDecodeRoundTrip(t *testing.T) {
	r := GateRegistration{ID: 42, KeymakerPubKey: [32]byte{9}, GateBaseKey: [32]byte{10}}
	got, err := DecodeGateRegistration(r.Encode())
	if err != nil {
		t.Fatalf("DecodeGateRegistration returned error: %v", err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestGateRegistrationDecodeRejectsWrongLength(t *testing.T) {
	if _, err := DecodeGateRegistration(make([]byte, 67)); err == nil {
		t.Fatalf("expected a short buffer to be rejected")
	}
	if _, err := DecodeGateRegistration(make([]byte, 69)); err == nil {
		t.Fatalf("expected a buffer with trailing bytes to be rejected")
	}
}

func TestGPIOConfigEncodeDecodeRoundTrip(t *testing.T) {
	c := GPIOConfig{GPIONum: 5, Level: true, HoldTimeMs: 750}
	got, err := DecodeGPIOConfig(c.Encode())
	if err != nil {
		t.Fatalf("DecodeGPIOConfig returned error: %v", err)
	}
	if got != c {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestGPIOConfigDecodeRejectsWrongLength(t *testing.T) {
	if _, err := DecodeGPIOConfig(make([]byte, 5)); err == nil {
		t.Fatalf("expected a 5-byte buffer to be rejected")
	}
	if _, err := DecodeGPIOConfig(make([]byte, 7)); err == nil {
		t.Fatalf("expected a 7-byte buffer to be rejected")
	}
}

func TestUpdateSettingsEncodeDecodeRoundTrip(t *testing.T) {
	s := UpdateSettings{ChannelURL: "https://updates.example/stable", AutoUpdate: true}
	got, err := DecodeUpdateSettings(s.Encode())
	if err != nil {
		t.Fatalf("DecodeUpdateSettings returned error: %v", err)
	}
	if got != s {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestUpdateSettingsDecodeRejectsOverlongURLLength(t *testing.T) {
	s := UpdateSettings{ChannelURL: "x", AutoUpdate: false}
	buf := s.Encode()
	buf[0], buf[1], buf[2], buf[3] = 0xff, 0xff, 0xff, 0x7f
	if _, err := DecodeUpdateSettings(buf); err == nil {
		t.Fatalf("expected an overlong channel url length to be rejected")
	}
}

func TestUpdateSettingsDecodeRejectsMissingAutoUpdateByte(t *testing.T) {
	s := UpdateSettings{ChannelURL: "x"}
	buf := s.Encode()
	buf = buf[:len(buf)-1]
	if _, err := DecodeUpdateSettings(buf); err == nil {
		t.Fatalf("expected a truncated buffer missing the auto_update byte to be rejected")
	}
}

func TestWifiSettingsEncodeDecodeRoundTrip(t *testing.T) {
	w := WifiSettings{SSID: "lobby-ap", Password: "correcthorsebatterystaple"}
	got, err := DecodeWifiSettings(w.Encode())
	if err != nil {
		t.Fatalf("DecodeWifiSettings returned error: %v", err)
	}
	if got != w {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, w)
	}
}

func TestWifiSettingsDecodeRejectsTrailingBytes(t *testing.T) {
	w := WifiSettings{SSID: "a", Password: "b"}
	buf := append(w.Encode(), 0x00)
	if _, err := DecodeWifiSettings(buf); err == nil {
		t.Fatalf("expected trailing bytes after password to be rejected")
	}
}
