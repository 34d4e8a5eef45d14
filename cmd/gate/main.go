// cmd/gate is the gate's CLI: it runs the card-presence auth responder
// against a PC/SC reader and the RPC serve loop against incoming
// keymaker connections, concurrently, for as long as the process runs.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/clavisys/keycard/cmd/gate/internal/config"
	"github.com/clavisys/keycard/internal/netlink"
	"github.com/clavisys/keycard/internal/pcsc"
	"github.com/clavisys/keycard/pkg/cardmodel"
	"github.com/clavisys/keycard/pkg/channel"
	"github.com/clavisys/keycard/pkg/desfire"
	"github.com/clavisys/keycard/pkg/gateauth"
	"github.com/clavisys/keycard/pkg/gateproto"
	"github.com/clavisys/keycard/pkg/keyalg"
	"github.com/clavisys/keycard/pkg/ota"
	"github.com/clavisys/keycard/pkg/rpc"
	"github.com/clavisys/keycard/pkg/state"
)

const pollInterval = 500 * time.Millisecond

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	identityKP := unsealIdentity(cfg)
	store := state.NewFileStore(cfg.State.Dir)

	fw := gateproto.FirmwareInfo{
		Name:     cfg.Firmware.Name,
		Version:  cfg.Firmware.Version,
		Commit:   cfg.Firmware.Commit,
		Platform: cfg.Firmware.Platform,
	}
	runningVer, err := ota.ParseVersion(cfg.Firmware.Version)
	if err != nil {
		log.Fatalf("invalid firmware.version %q: %v", cfg.Firmware.Version, err)
	}
	updater := ota.NewClient(cfg.Firmware.Platform, runningVer)

	server := gateproto.NewServer(store, fw, noopGPIO{}, updater, noopWifi{}, identityKP.Public)

	go runRPCServer(cfg, server, identityKP)
	runAuthResponder(cfg, server, identityKP)
}

func unsealIdentity(cfg *config.Config) *keyalg.KeyPair {
	blob, err := os.ReadFile(cfg.Identity.KeyFile)
	if err != nil {
		log.Fatalf("reading identity key file: %v", err)
	}
	fmt.Fprint(os.Stderr, "gate key passphrase: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("reading passphrase: %v", err)
	}
	kp, err := keyalg.OpenKeyPair(blob, password)
	if err != nil {
		log.Fatalf("unsealing identity key: %v", err)
	}
	return kp
}

// runRPCServer accepts keymaker connections one at a time over
// internal/netlink and serves the gate RPC surface on each.
func runRPCServer(cfg *config.Config, server *gateproto.Server, identityKP *keyalg.KeyPair) {
	ln, err := netlink.Listen(cfg.Listen.Addr)
	if err != nil {
		log.Fatalf("listening on %s: %v", cfg.Listen.Addr, err)
	}
	defer ln.Close()
	slog.Info("gate rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			slog.Error("accept failed", "err", err)
			continue
		}
		go serveOneConnection(conn, server, identityKP)
	}
}

func serveOneConnection(conn *netlink.Conn, server *gateproto.Server, identityKP *keyalg.KeyPair) {
	defer conn.Close()
	const timeout = 30 * time.Second

	sess, err := channel.HandshakeTarget(conn, identityKP.Secret, identityKP.Public, timeout)
	if err != nil {
		slog.Warn("channel handshake failed", "err", err)
		return
	}
	peerPK := sess.PeerPublicKey()

	link := &rpc.TargetLink{Session: sess, Target: conn, Timeout: timeout}
	bridge := rpc.NewBridge(link)
	if err := server.RegisterHandlers(bridge, func() [32]byte { return peerPK }); err != nil {
		slog.Error("registering rpc handlers", "err", err)
		return
	}
	if err := bridge.ServeLoop(); err != nil {
		slog.Info("rpc session ended", "err", err)
	}
}

// runAuthResponder polls the configured reader for card activity and
// runs the card auth responder flow against whatever registration is
// currently persisted, re-reading it each cycle so a fresh register_gate
// takes effect without a restart.
func runAuthResponder(cfg *config.Config, server *gateproto.Server, identityKP *keyalg.KeyPair) {
	readers, err := pcsc.ListReaders()
	if err != nil || len(readers) == 0 {
		log.Fatalf("listing readers: %v", err)
	}
	if *cfg.Runtime.ReaderIndex >= len(readers) {
		log.Fatalf("reader index %d out of range (0..%d)", *cfg.Runtime.ReaderIndex, len(readers)-1)
	}
	reader := readers[*cfg.Runtime.ReaderIndex]

	watcher, err := pcsc.NewWatcher(reader)
	if err != nil {
		log.Fatalf("opening reader watcher: %v", err)
	}
	defer watcher.Close()

	for {
		reg, ok := server.Registration()
		if !ok {
			time.Sleep(pollInterval)
			continue
		}

		if err := watcher.WaitForInsert(pollInterval); err != nil {
			slog.Error("waiting for card", "err", err)
			continue
		}

		conn, err := pcsc.Connect(*cfg.Runtime.ReaderIndex)
		if err != nil {
			slog.Error("connecting to presented card", "err", err)
			continue
		}
		card := desfire.NewCard(conn)
		responder := &gateauth.Responder{
			GateID:      cardmodel.GateID(reg.ID),
			GateKeyPair: identityKP,
			GateBaseKey: reg.GateBaseKey,
			KeymakerPub: reg.KeymakerPubKey,
			GPIO:        loggingGPIO{},
		}
		result := responder.Authenticate(card)
		conn.Close()
		slog.Info("auth attempt", "outcome", result.Outcome.String())

		if err := watcher.WaitForRemove(pollInterval); err != nil {
			slog.Error("waiting for card removal", "err", err)
		}
	}
}

// loggingGPIO implements gateauth.GPIOActuator with a log line in place
// of a physical GPIO driver, so the responder's success path is still
// exercised end to end.
type loggingGPIO struct{}

func (loggingGPIO) Fire() error {
	slog.Info("gpio: auth-success output fired")
	return nil
}

// noopGPIO implements gateproto.GPIOActuator (the RPC-configurable
// variant, distinct in shape from gateauth.GPIOActuator's Fire-only
// contract since set_gpio_config reconfigures pin/level/hold-time
// rather than firing it).
type noopGPIO struct{}

func (noopGPIO) Set(cfg state.GPIOConfig) error {
	slog.Info("gpio: configuration applied", "gpio_num", cfg.GPIONum, "level", cfg.Level, "hold_time_ms", cfg.HoldTimeMs)
	return nil
}

// noopWifi implements gateproto.WifiAssociator. The Wi-Fi stack itself
// is an external collaborator this core never drives directly.
type noopWifi struct{}

func (noopWifi) Connect(ssid, password string) error {
	slog.Info("wifi: association requested", "ssid", ssid)
	return nil
}

func (noopWifi) Status() (ssid string, operational bool) {
	return "", false
}
