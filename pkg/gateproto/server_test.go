package gateproto

import (
	"testing"

	"github.com/clavisys/keycard/pkg/rpc"
	"github.com/clavisys/keycard/pkg/state"
)

type fakeGPIO struct{ lastConfig state.GPIOConfig }

func (f *fakeGPIO) Set(cfg state.GPIOConfig) error {
	f.lastConfig = cfg
	return nil
}

type fakeUpdateChecker struct {
	url   string
	found bool
	err   error
}

func (f *fakeUpdateChecker) CheckForUpdates(channelURL string) (string, bool, error) {
	return f.url, f.found, f.err
}

type fakeWifi struct{}

func (fakeWifi) Connect(ssid, password string) error { return nil }
func (fakeWifi) Status() (string, bool)              { return "", false }

// clientLink and serverLink are the two ends of an in-process rpc.Link,
// wired through unbuffered channels so a test can drive a real
// ServeLoop without any network or channel-session underneath.
type clientLink struct {
	toServer chan []byte
	toClient chan []byte
}

func (l *clientLink) SendCommand(frame []byte) error    { l.toServer <- frame; return nil }
func (l *clientLink) ReceiveResponse() ([]byte, error)  { return <-l.toClient, nil }
func (l *clientLink) ReceiveCommand() ([]byte, error)   { panic("clientLink does not serve commands") }
func (l *clientLink) SendResponse(frame []byte) error   { panic("clientLink does not serve commands") }

type serverLink struct {
	toServer chan []byte
	toClient chan []byte
}

func (l *serverLink) ReceiveCommand() ([]byte, error)  { return <-l.toServer, nil }
func (l *serverLink) SendResponse(frame []byte) error  { l.toClient <- frame; return nil }
func (l *serverLink) SendCommand(frame []byte) error   { panic("serverLink does not originate commands") }
func (l *serverLink) ReceiveResponse() ([]byte, error) { panic("serverLink does not originate commands") }

// newLoopBridges starts srv's ServeLoop over an in-process link pair and
// returns a client bridge wired to the other end, plus a func to stop
// the server goroutine once the test is done with it.
func newLoopBridges(t *testing.T, srv *Server, peerPK func() [32]byte) (*rpc.Bridge, func()) {
	t.Helper()
	toServer := make(chan []byte)
	toClient := make(chan []byte)

	serverBridge := rpc.NewBridge(&serverLink{toServer: toServer, toClient: toClient})
	if err := srv.RegisterHandlers(serverBridge, peerPK); err != nil {
		t.Fatalf("RegisterHandlers returned error: %v", err)
	}

	go serverBridge.ServeLoop()

	clientBridge := rpc.NewBridge(&clientLink{toServer: toServer, toClient: toClient})
	stop := func() {
		// ServeLoop sits blocked in ReceiveCommand between calls; there is
		// no in-band way to wake it without sending another frame whose
		// reply nobody drains, so the goroutine is simply left to exit
		// with the test process rather than joined here.
		serverBridge.Stop()
	}
	return clientBridge, stop
}

func newTestServer(ota UpdateChecker) *Server {
	store := state.NewMemStore()
	fw := FirmwareInfo{Name: "gate", Version: "1.0.0", Commit: "abc", Platform: "test"}
	var gatePubKey [32]byte
	gatePubKey[0] = 0xAA
	return NewServer(store, fw, &fakeGPIO{}, ota, fakeWifi{}, gatePubKey)
}

// registerGate invokes register_gate(gateID) over client; ownership binds
// to whatever peerPK the bridge's handshake closure is currently
// returning, not to anything in the request body.
func registerGate(t *testing.T, client *rpc.Bridge, gateID uint32) {
	t.Helper()
	w := rpc.NewWriter()
	w.WriteUint32(gateID)
	if _, err := client.RemoteInvoke(string(CmdRegisterGate), w.Bytes()); err != nil {
		t.Fatalf("register_gate failed: %v", err)
	}
}

func TestRegisterGatePersistsRegistrationAndGeneratesBaseKey(t *testing.T) {
	srv := newTestServer(&fakeUpdateChecker{})
	var owner [32]byte
	owner[0] = 0x42
	client, stop := newLoopBridges(t, srv, func() [32]byte { return owner })
	defer stop()

	w := rpc.NewWriter()
	w.WriteUint32(7)
	resp, err := client.RemoteInvoke(string(CmdRegisterGate), w.Bytes())
	if err != nil {
		t.Fatalf("register_gate failed: %v", err)
	}
	r := rpc.NewReader(resp)
	baseKey := r.ReadFixed(32)
	if err := r.Done(); err != nil {
		t.Fatalf("decoding register_gate reply: %v", err)
	}
	allZero := true
	for _, b := range baseKey {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatalf("expected a freshly generated, non-zero gate base key")
	}

	reg, ok := srv.Registration()
	if !ok {
		t.Fatalf("expected a registration to be recorded")
	}
	if reg.ID != 7 || reg.KeymakerPubKey != owner {
		t.Fatalf("registration does not match what was registered: %+v", reg)
	}

	if _, err := client.RemoteInvoke(string(CmdRegisterGate), w.Bytes()); err == nil {
		t.Fatalf("expected a second register_gate to fail on an already-registered gate")
	}
}

func TestResetGateIsOwnerOnly(t *testing.T) {
	srv := newTestServer(&fakeUpdateChecker{})
	var owner [32]byte
	owner[0] = 0x42
	var other [32]byte
	other[0] = 0x99

	peer := owner
	client, stop := newLoopBridges(t, srv, func() [32]byte { return peer })
	defer stop()

	registerGate(t, client, 3)

	peer = other
	if _, err := client.RemoteInvoke(string(CmdResetGate), nil); err == nil {
		t.Fatalf("expected reset_gate to be rejected for a non-owning peer")
	}

	peer = owner
	if _, err := client.RemoteInvoke(string(CmdResetGate), nil); err != nil {
		t.Fatalf("expected reset_gate to succeed for the owning peer: %v", err)
	}
	if _, ok := srv.Registration(); ok {
		t.Fatalf("expected registration to be cleared after reset_gate")
	}
}

func TestBackendURLGetSetRoundTrip(t *testing.T) {
	srv := newTestServer(&fakeUpdateChecker{})
	var owner [32]byte
	owner[0] = 0x01
	client, stop := newLoopBridges(t, srv, func() [32]byte { return owner })
	defer stop()

	registerGate(t, client, 1)

	setW := rpc.NewWriter()
	setW.WriteShortString("https://updates.example/backend")
	if _, err := client.RemoteInvoke(string(CmdSetBackendURL), setW.Bytes()); err != nil {
		t.Fatalf("set_backend_url failed: %v", err)
	}

	resp, err := client.RemoteInvoke(string(CmdGetBackendURL), nil)
	if err != nil {
		t.Fatalf("get_backend_url failed: %v", err)
	}
	r := rpc.NewReader(resp)
	url := r.ReadShortString()
	if err := r.Done(); err != nil {
		t.Fatalf("decoding get_backend_url reply: %v", err)
	}
	if url != "https://updates.example/backend" {
		t.Fatalf("got %q, want the set url", url)
	}
}

func TestUpdateNowRequiresAnAvailableRelease(t *testing.T) {
	srv := newTestServer(&fakeUpdateChecker{found: false})
	var owner [32]byte
	client, stop := newLoopBridges(t, srv, func() [32]byte { return owner })
	defer stop()

	registerGate(t, client, 1)

	if _, err := client.RemoteInvoke(string(CmdUpdateNow), nil); err == nil {
		t.Fatalf("expected update_now to fail when no release is available")
	}
}

func TestUpdateNowStartsUpdateWhenReleaseFound(t *testing.T) {
	srv := newTestServer(&fakeUpdateChecker{url: "https://fw.example/v2.bin", found: true})
	var owner [32]byte
	client, stop := newLoopBridges(t, srv, func() [32]byte { return owner })
	defer stop()

	registerGate(t, client, 1)

	resp, err := client.RemoteInvoke(string(CmdUpdateNow), nil)
	if err != nil {
		t.Fatalf("update_now failed: %v", err)
	}
	r := rpc.NewReader(resp)
	url := r.ReadShortString()
	if err := r.Done(); err != nil {
		t.Fatalf("decoding update_now reply: %v", err)
	}
	if url != "https://fw.example/v2.bin" {
		t.Fatalf("got %q, want the release url", url)
	}

	statusResp, err := client.RemoteInvoke(string(CmdIsUpdating), nil)
	if err != nil {
		t.Fatalf("is_updating failed: %v", err)
	}
	sr := rpc.NewReader(statusResp)
	updatingURL := sr.ReadShortString()
	if err := sr.Done(); err != nil {
		t.Fatalf("decoding is_updating reply: %v", err)
	}
	if updatingURL != "https://fw.example/v2.bin" {
		t.Fatalf("got %q, want is_updating to report the in-progress url", updatingURL)
	}
}

func TestUpdateManuallyRejectsEmptyURL(t *testing.T) {
	srv := newTestServer(&fakeUpdateChecker{})
	var owner [32]byte
	client, stop := newLoopBridges(t, srv, func() [32]byte { return owner })
	defer stop()

	registerGate(t, client, 1)

	w := rpc.NewWriter()
	w.WriteShortString("")
	if _, err := client.RemoteInvoke(string(CmdUpdateManually), w.Bytes()); err == nil {
		t.Fatalf("expected update_manually to reject an empty url")
	}
}
