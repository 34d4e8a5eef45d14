package identity

import "testing"

func TestCanonicalEscapesControlCharacters(t *testing.T) {
	id := Identity{
		TokenID:   [7]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
		Holder:    "a\nb",
		Publisher: "c\\d",
	}
	got := id.Canonical()
	want := "01020304050607\na\\nb\nc\\\\d"
	if got != want {
		t.Fatalf("Canonical() = %q, want %q", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	id := Identity{
		TokenID:   [7]byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6, 0x07},
		Holder:    "Holder",
		Publisher: "Publisher",
	}
	buf := id.Encode()
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got != id {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, id)
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected error decoding a truncated buffer")
	}
}

func TestDecodeRejectsOverlongLengthPrefix(t *testing.T) {
	id := Identity{TokenID: [7]byte{1, 2, 3, 4, 5, 6, 7}, Holder: "h", Publisher: "p"}
	buf := id.Encode()
	// Corrupt the holder length prefix (bytes 7:9, little-endian u16) to
	// claim more bytes than remain.
	buf[7] = 0xff
	buf[8] = 0xff
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected error decoding an overlong length prefix")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	id := Identity{TokenID: [7]byte{1, 2, 3, 4, 5, 6, 7}, Holder: "h", Publisher: "p"}
	a := id.Hash()
	b := id.Hash()
	if a != b {
		t.Fatalf("Hash() is not deterministic across calls")
	}
}
