// Package gateproto implements the concrete gate RPC surface: the
// command set a gate exposes over pkg/rpc, each tagged with an
// authorization class enforced before the handler ever runs.
package gateproto

import "github.com/clavisys/keycard/pkg/rpc"

// AuthClass is the authorization class of a gate command.
type AuthClass int

const (
	// Public requires no identity at all.
	Public AuthClass = iota
	// KeymakerAny accepts any authenticated peer.
	KeymakerAny
	// KeymakerOwner accepts only the keymaker whose public key matches
	// the gate's configured owner.
	KeymakerOwner
	// UnconfiguredOnly is allowed only before the gate is registered.
	UnconfiguredOnly
	// UnconfiguredOrOwner is allowed before registration, or
	// afterward only to the owning keymaker.
	UnconfiguredOrOwner
)

// Protocol-layer error kinds. These are a superset carried over the
// same rpc.Error Kind string, which is how a receiver distinguishes an
// RPC-layer failure from a protocol-layer one without a separate wire
// field (see pkg/rpc/wire.go).
const (
	KindUnauthorized      rpc.Kind = "unauthorized"
	KindInvalidOperation  rpc.Kind = "invalid_operation"
	KindInvalidArgument   rpc.Kind = "invalid_argument"
)

func errUnauthorized(msg string) *rpc.Error {
	return &rpc.Error{Kind: KindUnauthorized, Msg: msg}
}

func errInvalidOperation(msg string) *rpc.Error {
	return &rpc.Error{Kind: KindInvalidOperation, Msg: msg}
}

func errInvalidArgument(msg string) *rpc.Error {
	return &rpc.Error{Kind: KindInvalidArgument, Msg: msg}
}

// CommandName enumerates the concrete v0 command set.
type CommandName string

const (
	CmdHello               CommandName = "hello"
	CmdBye                 CommandName = "bye"
	CmdGetFwInfo           CommandName = "get_fw_info"
	CmdGetUpdateSettings   CommandName = "get_update_settings"
	CmdGetWifiStatus       CommandName = "get_wifi_status"
	CmdGetRegistrationInfo CommandName = "get_registration_info"
	CmdGetBackendURL       CommandName = "get_backend_url"
	CmdGetGPIOConfig       CommandName = "get_gpio_config"
	CmdIsUpdating          CommandName = "is_updating"
	CmdCheckForUpdates     CommandName = "check_for_updates"
	CmdRegisterGate        CommandName = "register_gate"
	CmdResetGate           CommandName = "reset_gate"
	CmdSetUpdateSettings   CommandName = "set_update_settings"
	CmdUpdateNow           CommandName = "update_now"
	CmdUpdateManually      CommandName = "update_manually"
	CmdConnectWifi         CommandName = "connect_wifi"
	CmdSetBackendURL       CommandName = "set_backend_url"
	CmdSetGPIOConfig       CommandName = "set_gpio_config"
	CmdRestartGate         CommandName = "restart_gate"
)

// classOf is the fixed authorization table from the v0 surface.
var classOf = map[CommandName]AuthClass{
	CmdHello:               Public,
	CmdBye:                 Public,
	CmdGetFwInfo:           Public,
	CmdGetUpdateSettings:   Public,
	CmdGetWifiStatus:       Public,
	CmdGetRegistrationInfo: Public,
	CmdGetBackendURL:       Public,
	CmdGetGPIOConfig:       Public,
	CmdIsUpdating:          Public,
	CmdCheckForUpdates:     Public,
	CmdRegisterGate:        UnconfiguredOnly,
	CmdResetGate:           KeymakerOwner,
	CmdSetUpdateSettings:   UnconfiguredOrOwner,
	CmdUpdateNow:           KeymakerOwner,
	CmdUpdateManually:      KeymakerOwner,
	CmdConnectWifi:         UnconfiguredOrOwner,
	CmdSetBackendURL:       KeymakerOwner,
	CmdSetGPIOConfig:       KeymakerOwner,
	CmdRestartGate:         KeymakerOwner,
}

// IdentityProbe is identify_gate's result: the channel peer's public
// key and whether it is the registered owner.
type IdentityProbe struct {
	PeerPublicKey [32]byte
	Configured    bool
	IsOwner       bool
}

// Authorize enforces cmd's authorization class against probe, returning
// unauthorized or invalid_operation before a handler ever runs.
func Authorize(cmd CommandName, probe IdentityProbe) error {
	class, ok := classOf[cmd]
	if !ok {
		return errInvalidArgument("unknown command " + string(cmd))
	}
	switch class {
	case Public:
		return nil
	case KeymakerAny:
		return nil
	case KeymakerOwner:
		if !probe.Configured || !probe.IsOwner {
			return errUnauthorized(string(cmd) + " requires the owning keymaker")
		}
		return nil
	case UnconfiguredOnly:
		if probe.Configured {
			return errInvalidOperation(string(cmd) + " is only valid before registration")
		}
		return nil
	case UnconfiguredOrOwner:
		if probe.Configured && !probe.IsOwner {
			return errUnauthorized(string(cmd) + " requires the owning keymaker once configured")
		}
		return nil
	default:
		return errInvalidArgument("unrecognized authorization class")
	}
}
