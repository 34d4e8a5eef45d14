package gateproto

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/clavisys/keycard/pkg/rpc"
	"github.com/clavisys/keycard/pkg/state"
)

func readRandom(b []byte) (int, error) { return io.ReadFull(rand.Reader, b) }

// NoGateID is the sentinel returned by get_registration_info before a
// gate is configured.
const NoGateID uint32 = ^uint32(0)

// FirmwareInfo answers get_fw_info.
type FirmwareInfo struct {
	Name     string
	Version  string
	Commit   string
	Platform string
}

// GPIOActuator drives the physical auth-success output. It is the
// process-wide singleton: set_gpio_config must hold its
// mutex across disabling the old pin and enabling the new one.
type GPIOActuator interface {
	Set(cfg state.GPIOConfig) error
}

// UpdateChecker polls a gate's configured update channel for a newer
// release; pkg/ota provides the HTTP-backed implementation.
type UpdateChecker interface {
	CheckForUpdates(channelURL string) (url string, found bool, err error)
}

// WifiAssociator attempts a one-shot association probe with the given
// credentials; the Wi-Fi stack itself is an external collaborator.
type WifiAssociator interface {
	Connect(ssid, password string) error
	Status() (ssid string, operational bool)
}

// Server holds a gate's mutable RPC-visible state and exposes the
// concrete v0 command handlers, each enforcing its authorization class
// before running.
type Server struct {
	mu sync.Mutex

	store state.Store
	fw    FirmwareInfo
	gpio  GPIOActuator
	ota   UpdateChecker
	wifi  WifiAssociator

	gatePubKey [32]byte

	reg            *state.GateRegistration
	updateSettings state.UpdateSettings
	gpioConfig     state.GPIOConfig
	backendURL     string
	updatingURL    string
}

// NewServer loads any persisted registration/settings from store and
// returns a ready Server. gatePubKey is the gate's own long-term
// identity public key (the counterpart of the secret half handed to
// pkg/gateauth's Responder), published unauthenticated by
// get_registration_info. A gate with no saved registration starts
// unconfigured.
func NewServer(store state.Store, fw FirmwareInfo, gpio GPIOActuator, ota UpdateChecker, wifi WifiAssociator, gatePubKey [32]byte) *Server {
	s := &Server{store: store, fw: fw, gpio: gpio, ota: ota, wifi: wifi, gatePubKey: gatePubKey}

	if raw, err := store.GetBlob(state.GateRegistrationNamespace, state.RegistrationKey); err == nil {
		if reg, err := state.DecodeGateRegistration(raw); err == nil {
			s.reg = &reg
		}
	}
	if raw, err := store.GetBlob(state.GateRegistrationNamespace, state.UpdateSettingsKey); err == nil {
		if us, err := state.DecodeUpdateSettings(raw); err == nil {
			s.updateSettings = us
		}
	}
	if raw, err := store.GetBlob(state.GateRegistrationNamespace, state.GPIOConfigKey); err == nil {
		if cfg, err := state.DecodeGPIOConfig(raw); err == nil {
			s.gpioConfig = cfg
		}
	}
	if raw, err := store.GetBlob(state.GateRegistrationNamespace, state.BackendURLKey); err == nil {
		s.backendURL = string(raw)
	}
	return s
}

// IsOwner reports whether peerPK matches the registered keymaker.
func (s *Server) IsOwner(peerPK [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg != nil && s.reg.KeymakerPubKey == peerPK
}

// Registration returns the gate's current registration, if any, for
// callers (the card auth responder loop) that need it outside the RPC
// surface.
func (s *Server) Registration() (state.GateRegistration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg == nil {
		return state.GateRegistration{}, false
	}
	return *s.reg, true
}

// Probe builds the IdentityProbe Authorize expects for peerPK.
func (s *Server) Probe(peerPK [32]byte) IdentityProbe {
	s.mu.Lock()
	configured := s.reg != nil
	owner := configured && s.reg.KeymakerPubKey == peerPK
	s.mu.Unlock()
	return IdentityProbe{PeerPublicKey: peerPK, Configured: configured, IsOwner: owner}
}

// RegisterHandlers installs every v0 command on bridge, wrapping each
// handler with an authorization check against the calling peer's public
// key as reported by peerPK.
func (s *Server) RegisterHandlers(bridge *rpc.Bridge, peerPK func() [32]byte) error {
	handlers := map[CommandName]rpc.Handler{
		CmdHello:               s.handleHello,
		CmdBye:                 s.handleBye,
		CmdGetFwInfo:           s.handleGetFwInfo,
		CmdGetUpdateSettings:   s.handleGetUpdateSettings,
		CmdGetWifiStatus:       s.handleGetWifiStatus,
		CmdGetRegistrationInfo: s.handleGetRegistrationInfo,
		CmdGetBackendURL:       s.handleGetBackendURL,
		CmdGetGPIOConfig:       s.handleGetGPIOConfig,
		CmdIsUpdating:          s.handleIsUpdating,
		CmdCheckForUpdates:     s.handleCheckForUpdates,
		CmdResetGate:           s.handleResetGate,
		CmdSetUpdateSettings:   s.handleSetUpdateSettings,
		CmdUpdateNow:           s.handleUpdateNow,
		CmdUpdateManually:      s.handleUpdateManually,
		CmdConnectWifi:         s.handleConnectWifi,
		CmdSetBackendURL:       s.handleSetBackendURL,
		CmdSetGPIOConfig:       s.handleSetGPIOConfig,
		CmdRestartGate:         s.handleRestartGate,
	}

	for name, fn := range handlers {
		n, f := name, fn
		wrapped := func(args []byte) ([]byte, error) {
			if err := Authorize(n, s.Probe(peerPK())); err != nil {
				return nil, err
			}
			return f(args)
		}
		if err := bridge.RegisterCommand(rpc.Command{UUID: string(n), Signature: string(n), Handler: wrapped}); err != nil {
			return err
		}
	}

	// register_gate is special-cased: it must bind the new registration
	// to the authenticated channel peer, which only peerPK() (not the
	// generic rpc.Handler signature) can supply.
	registerGate := func(args []byte) ([]byte, error) {
		peer := peerPK()
		if err := Authorize(CmdRegisterGate, s.Probe(peer)); err != nil {
			return nil, err
		}
		return s.handleRegisterGate(args, peer)
	}
	if err := bridge.RegisterCommand(rpc.Command{UUID: string(CmdRegisterGate), Signature: string(CmdRegisterGate), Handler: registerGate}); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHello(args []byte) ([]byte, error) { return nil, nil }
func (s *Server) handleBye(args []byte) ([]byte, error)   { return nil, nil }

func (s *Server) handleGetFwInfo(args []byte) ([]byte, error) {
	w := rpc.NewWriter()
	w.WriteShortString(s.fw.Name)
	w.WriteShortString(s.fw.Version)
	w.WriteShortString(s.fw.Commit)
	w.WriteShortString(s.fw.Platform)
	return w.Bytes(), nil
}

func (s *Server) handleGetUpdateSettings(args []byte) ([]byte, error) {
	s.mu.Lock()
	us := s.updateSettings
	s.mu.Unlock()
	w := rpc.NewWriter()
	w.WriteShortString(us.ChannelURL)
	w.WriteBool(us.AutoUpdate)
	return w.Bytes(), nil
}

func (s *Server) handleGetWifiStatus(args []byte) ([]byte, error) {
	ssid, operational := s.wifi.Status()
	w := rpc.NewWriter()
	w.WriteShortString(ssid)
	w.WriteBool(operational)
	return w.Bytes(), nil
}

func (s *Server) handleGetRegistrationInfo(args []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := rpc.NewWriter()
	if s.reg == nil {
		w.WriteUint32(NoGateID)
		w.WriteFixed(s.gatePubKey[:])
		w.WriteFixed(make([]byte, 32))
		return w.Bytes(), nil
	}
	w.WriteUint32(s.reg.ID)
	w.WriteFixed(s.gatePubKey[:])
	w.WriteFixed(s.reg.KeymakerPubKey[:])
	return w.Bytes(), nil
}

func (s *Server) handleGetBackendURL(args []byte) ([]byte, error) {
	s.mu.Lock()
	url := s.backendURL
	s.mu.Unlock()
	w := rpc.NewWriter()
	w.WriteShortString(url)
	return w.Bytes(), nil
}

func (s *Server) handleSetBackendURL(args []byte) ([]byte, error) {
	r := rpc.NewReader(args)
	url := r.ReadShortString()
	if err := r.Done(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backendURL = url
	if err := s.store.SetBlob(state.GateRegistrationNamespace, state.BackendURLKey, []byte(url)); err != nil {
		return nil, errInvalidArgument("persisting backend url: " + err.Error())
	}
	return nil, s.store.Commit()
}

func (s *Server) handleGetGPIOConfig(args []byte) ([]byte, error) {
	s.mu.Lock()
	cfg := s.gpioConfig
	s.mu.Unlock()
	return cfg.Encode(), nil
}

func (s *Server) handleIsUpdating(args []byte) ([]byte, error) {
	s.mu.Lock()
	url := s.updatingURL
	s.mu.Unlock()
	w := rpc.NewWriter()
	w.WriteShortString(url)
	return w.Bytes(), nil
}

func (s *Server) handleCheckForUpdates(args []byte) ([]byte, error) {
	s.mu.Lock()
	channel := s.updateSettings.ChannelURL
	s.mu.Unlock()
	url, found, err := s.ota.CheckForUpdates(channel)
	if err != nil {
		return nil, errInvalidArgument("checking for updates: " + err.Error())
	}
	w := rpc.NewWriter()
	w.WriteBool(found)
	w.WriteShortString(url)
	return w.Bytes(), nil
}

// handleUpdateNow checks the configured channel and, if a newer release
// exists, marks it as the in-progress update URL. The firmware fetch
// and flash itself runs on the embedded platform's own event loop.
func (s *Server) handleUpdateNow(args []byte) ([]byte, error) {
	s.mu.Lock()
	channel := s.updateSettings.ChannelURL
	s.mu.Unlock()
	url, found, err := s.ota.CheckForUpdates(channel)
	if err != nil {
		return nil, errInvalidArgument("checking for updates: " + err.Error())
	}
	if !found {
		return nil, errInvalidOperation("no update available on the configured channel")
	}
	s.mu.Lock()
	s.updatingURL = url
	s.mu.Unlock()
	w := rpc.NewWriter()
	w.WriteShortString(url)
	return w.Bytes(), nil
}

// handleUpdateManually bypasses the channel check and starts updating
// to the caller-supplied firmware URL directly.
func (s *Server) handleUpdateManually(args []byte) ([]byte, error) {
	r := rpc.NewReader(args)
	url := r.ReadShortString()
	if err := r.Done(); err != nil {
		return nil, err
	}
	if url == "" {
		return nil, errInvalidArgument("update url must not be empty")
	}
	s.mu.Lock()
	s.updatingURL = url
	s.mu.Unlock()
	return nil, nil
}

// handleRegisterGate persists (id, peer) with peer bound to the
// authenticated channel identity that performed the handshake, never to
// anything the request body supplies — a caller only names the gate id
// it wants to claim.
func (s *Server) handleRegisterGate(args []byte, peer [32]byte) ([]byte, error) {
	r := rpc.NewReader(args)
	id := r.ReadUint32()
	if err := r.Done(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg != nil {
		return nil, errInvalidOperation("gate already registered")
	}
	var baseKey [32]byte
	if _, err := readRandom(baseKey[:]); err != nil {
		return nil, errInvalidArgument("generating gate base key: " + err.Error())
	}
	reg := state.GateRegistration{ID: id, KeymakerPubKey: peer, GateBaseKey: baseKey}
	if err := s.store.SetBlob(state.GateRegistrationNamespace, state.RegistrationKey, reg.Encode()); err != nil {
		return nil, errInvalidArgument("persisting registration: " + err.Error())
	}
	if err := s.store.Commit(); err != nil {
		return nil, errInvalidArgument("committing registration: " + err.Error())
	}
	s.reg = &reg

	w := rpc.NewWriter()
	w.WriteFixed(baseKey[:])
	return w.Bytes(), nil
}

func (s *Server) handleResetGate(args []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg = nil
	if err := s.store.Erase(state.GateRegistrationNamespace, state.RegistrationKey); err != nil {
		if se, ok := err.(*state.StoreError); !ok || se.Kind != state.StoreNotFound {
			return nil, errInvalidArgument("clearing registration: " + err.Error())
		}
	}
	return nil, nil
}

func (s *Server) handleSetUpdateSettings(args []byte) ([]byte, error) {
	r := rpc.NewReader(args)
	us := state.UpdateSettings{ChannelURL: r.ReadShortString(), AutoUpdate: r.ReadBool()}
	if err := r.Done(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateSettings = us
	if err := s.store.SetBlob(state.GateRegistrationNamespace, state.UpdateSettingsKey, us.Encode()); err != nil {
		return nil, errInvalidArgument("persisting update settings: " + err.Error())
	}
	return nil, s.store.Commit()
}

func (s *Server) handleConnectWifi(args []byte) ([]byte, error) {
	r := rpc.NewReader(args)
	ssid := r.ReadShortString()
	password := r.ReadShortString()
	if err := r.Done(); err != nil {
		return nil, err
	}
	if err := s.wifi.Connect(ssid, password); err != nil {
		return nil, errInvalidArgument("wifi association failed: " + err.Error())
	}
	return nil, nil
}

func (s *Server) handleSetGPIOConfig(args []byte) ([]byte, error) {
	cfg, err := state.DecodeGPIOConfig(args)
	if err != nil {
		return nil, errInvalidArgument("decoding gpio config: " + err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gpio.Set(cfg); err != nil {
		return nil, errInvalidArgument("applying gpio config: " + err.Error())
	}
	s.gpioConfig = cfg
	if err := s.store.SetBlob(state.GateRegistrationNamespace, state.GPIOConfigKey, cfg.Encode()); err != nil {
		return nil, errInvalidArgument("persisting gpio config: " + err.Error())
	}
	return nil, s.store.Commit()
}

func (s *Server) handleRestartGate(args []byte) ([]byte, error) {
	return nil, nil
}
