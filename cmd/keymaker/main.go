// cmd/keymaker is the keymaker's CLI: it deploys tokens, enrolls and
// unenrolls gates on a token already in hand, tracks gate records, and
// drives the RPC register_gate exchange against a running gate over
// internal/netlink.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/clavisys/keycard/cmd/keymaker/internal/config"
	"github.com/clavisys/keycard/internal/netlink"
	"github.com/clavisys/keycard/internal/pcsc"
	"github.com/clavisys/keycard/pkg/cardmodel"
	"github.com/clavisys/keycard/pkg/channel"
	"github.com/clavisys/keycard/pkg/desfire"
	"github.com/clavisys/keycard/pkg/gateproto"
	"github.com/clavisys/keycard/pkg/identity"
	"github.com/clavisys/keycard/pkg/keyalg"
	"github.com/clavisys/keycard/pkg/rpc"
	"github.com/clavisys/keycard/pkg/state"
)

const configFileName = "config.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
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

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	configPath, err := defaultConfigPath()
	if err != nil {
		log.Fatalf("resolve config path failed: %v", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "deploy":
		runDeploy(cfg, rest)
	case "check-deploy":
		runCheckDeploy(cfg, rest)
	case "enroll-gate":
		runEnrollGate(cfg, rest)
	case "unenroll-gate":
		runUnenrollGate(cfg, rest)
	case "check-gate":
		runCheckGate(cfg, rest)
	case "gate-add":
		runGateAdd(cfg, rest)
	case "gate-remove":
		runGateRemove(cfg, rest)
	case "gate-list":
		runGateList(cfg, rest)
	case "register-gate":
		runRegisterGate(cfg, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: keymaker [-v] [-log-format text|json] <subcommand> [args]

subcommands:
  deploy -holder NAME -publisher NAME
  check-deploy
  enroll-gate -gate-id N -holder NAME -publisher NAME
  unenroll-gate -gate-id N
  check-gate -gate-id N
  gate-add -gate-id N -gate-pk HEX -gate-base-key HEX [-notes TEXT]
  gate-remove -gate-id N
  gate-list
  register-gate -addr HOST:PORT -gate-id N`)
}

func defaultConfigPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(exe)
	candidate := filepath.Join(dir, configFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	// go run builds into a temp dir; fall back to the working directory.
	return filepath.Join(".", configFileName), nil
}

func unsealIdentity(cfg *config.Config) *keyalg.KeyPair {
	blob, err := os.ReadFile(cfg.Identity.KeyFile)
	if err != nil {
		log.Fatalf("reading identity key file: %v", err)
	}
	fmt.Fprint(os.Stderr, "keymaker key passphrase: ")
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

func connectCard(cfg *config.Config) (*pcsc.Connection, *desfire.Card) {
	conn, err := pcsc.Connect(*cfg.Runtime.ReaderIndex)
	if err != nil {
		log.Fatalf("connecting to reader: %v", err)
	}
	fmt.Printf("Using reader [%d]: %s\n", conn.ReaderIdx, conn.Reader)
	return conn, desfire.NewCard(conn)
}

func openStore(cfg *config.Config) state.Store {
	return state.NewFileStore(cfg.State.RecordsDir)
}

func parseGateID(raw string) cardmodel.GateID {
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		log.Fatalf("invalid -gate-id %q: %v", raw, err)
	}
	return cardmodel.GateID(n)
}

func parseHexKey32(raw string) [32]byte {
	var out [32]byte
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 32 {
		log.Fatalf("expected 64 hex characters, got %q", raw)
	}
	copy(out[:], b)
	return out
}

func runDeploy(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	holder := fs.String("holder", "", "cardholder name (required)")
	publisher := fs.String("publisher", "", "issuing publisher (required)")
	fs.Parse(args)
	if strings.TrimSpace(*holder) == "" || strings.TrimSpace(*publisher) == "" {
		log.Fatalf("-holder and -publisher are required")
	}

	keymaker := unsealIdentity(cfg)
	conn, card := connectCard(cfg)
	defer conn.Close()

	id := identity.Identity{Holder: *holder, Publisher: *publisher}
	tokenID, err := cardmodel.Deploy(card, keymaker, id, nil)
	if err != nil {
		log.Fatalf("deploy failed: %v", err)
	}
	fmt.Printf("deployed token %x\n", tokenID)
}

func runCheckDeploy(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("check-deploy", flag.ExitOnError)
	fs.Parse(args)

	keymaker := unsealIdentity(cfg)
	conn, card := connectCard(cfg)
	defer conn.Close()

	ok, tokenID, err := cardmodel.IsDeployedCorrectly(card, keymaker)
	if err != nil {
		log.Fatalf("check-deploy failed: %v", err)
	}
	fmt.Printf("token %x deployed correctly: %v\n", tokenID, ok)
}

func gateSecInfoFromRecord(id cardmodel.GateID, r state.GateRecord) cardmodel.GateSecInfo {
	return cardmodel.GateSecInfo{GateID: id, GateBaseKey: r.GateBaseKey, PublicKey: r.GatePubKey}
}

func runEnrollGate(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("enroll-gate", flag.ExitOnError)
	gateIDFlag := fs.String("gate-id", "", "gate id (required)")
	holder := fs.String("holder", "", "cardholder name (required, must match the deployed identity)")
	publisher := fs.String("publisher", "", "issuing publisher (required, must match the deployed identity)")
	fs.Parse(args)
	if strings.TrimSpace(*gateIDFlag) == "" {
		log.Fatalf("-gate-id is required")
	}
	gateID := parseGateID(*gateIDFlag)

	store := openStore(cfg)
	rec, err := state.LoadGateRecord(store, uint32(gateID))
	if err != nil {
		log.Fatalf("loading gate record: %v (run gate-add first)", err)
	}

	keymaker := unsealIdentity(cfg)
	conn, card := connectCard(cfg)
	defer conn.Close()

	id := identity.Identity{Holder: *holder, Publisher: *publisher}
	if err := cardmodel.EnrollGate(card, keymaker, gateSecInfoFromRecord(gateID, rec), id); err != nil {
		log.Fatalf("enroll-gate failed: %v", err)
	}
	rec.Status = state.StatusConfigured
	if err := state.SaveGateRecord(store, rec); err != nil {
		log.Fatalf("updating gate record: %v", err)
	}
	fmt.Printf("gate %d enrolled\n", gateID)
}

func runUnenrollGate(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("unenroll-gate", flag.ExitOnError)
	gateIDFlag := fs.String("gate-id", "", "gate id (required)")
	fs.Parse(args)
	if strings.TrimSpace(*gateIDFlag) == "" {
		log.Fatalf("-gate-id is required")
	}
	gateID := parseGateID(*gateIDFlag)

	store := openStore(cfg)
	rec, err := state.LoadGateRecord(store, uint32(gateID))
	if err != nil {
		log.Fatalf("loading gate record: %v", err)
	}

	keymaker := unsealIdentity(cfg)
	conn, card := connectCard(cfg)
	defer conn.Close()

	if err := cardmodel.UnenrollGate(card, keymaker, gateSecInfoFromRecord(gateID, rec)); err != nil {
		log.Fatalf("unenroll-gate failed: %v", err)
	}
	fmt.Printf("gate %d unenrolled\n", gateID)
}

func runCheckGate(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("check-gate", flag.ExitOnError)
	gateIDFlag := fs.String("gate-id", "", "gate id (required)")
	fs.Parse(args)
	if strings.TrimSpace(*gateIDFlag) == "" {
		log.Fatalf("-gate-id is required")
	}
	gateID := parseGateID(*gateIDFlag)

	store := openStore(cfg)
	rec, err := state.LoadGateRecord(store, uint32(gateID))
	if err != nil {
		log.Fatalf("loading gate record: %v", err)
	}

	keymaker := unsealIdentity(cfg)
	conn, card := connectCard(cfg)
	defer conn.Close()

	ok, tokenID, err := cardmodel.IsGateEnrolledCorrectly(card, keymaker, gateSecInfoFromRecord(gateID, rec))
	if err != nil {
		log.Fatalf("check-gate failed: %v", err)
	}
	fmt.Printf("token %x gate %d enrolled correctly: %v\n", tokenID, gateID, ok)
}

func runGateAdd(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("gate-add", flag.ExitOnError)
	gateIDFlag := fs.String("gate-id", "", "gate id (required)")
	gatePK := fs.String("gate-pk", "", "gate public key, 64 hex chars (required)")
	gateBaseKey := fs.String("gate-base-key", "", "gate base key, 64 hex chars (required)")
	notes := fs.String("notes", "", "notes (optional)")
	fs.Parse(args)
	if strings.TrimSpace(*gateIDFlag) == "" || strings.TrimSpace(*gatePK) == "" || strings.TrimSpace(*gateBaseKey) == "" {
		log.Fatalf("-gate-id, -gate-pk and -gate-base-key are required")
	}
	gateID := parseGateID(*gateIDFlag)

	rec := state.GateRecord{
		ID:          uint32(gateID),
		Status:      state.StatusInitialized,
		GatePubKey:  parseHexKey32(*gatePK),
		GateBaseKey: parseHexKey32(*gateBaseKey),
		Notes:       *notes,
	}
	store := openStore(cfg)
	if err := state.SaveGateRecord(store, rec); err != nil {
		log.Fatalf("saving gate record: %v", err)
	}
	fmt.Printf("gate %d added\n", gateID)
}

func runGateRemove(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("gate-remove", flag.ExitOnError)
	gateIDFlag := fs.String("gate-id", "", "gate id (required)")
	fs.Parse(args)
	if strings.TrimSpace(*gateIDFlag) == "" {
		log.Fatalf("-gate-id is required")
	}
	gateID := parseGateID(*gateIDFlag)

	store := openStore(cfg)
	if err := state.DeleteGateRecord(store, uint32(gateID)); err != nil {
		log.Fatalf("removing gate record: %v", err)
	}
	fmt.Printf("gate %d removed\n", gateID)
}

func runGateList(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("gate-list", flag.ExitOnError)
	fs.Parse(args)
	fmt.Fprintln(os.Stderr, "gate-list walks the records directory directly; see", filepath.Join(cfg.State.RecordsDir, state.GateRecordsNamespace))
	entries, err := os.ReadDir(filepath.Join(cfg.State.RecordsDir, state.GateRecordsNamespace))
	if err != nil {
		log.Fatalf("listing gate records: %v", err)
	}
	store := openStore(cfg)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 16, 32)
		if err != nil {
			continue
		}
		rec, err := state.LoadGateRecord(store, uint32(n))
		if err != nil {
			continue
		}
		fmt.Printf("%d\tstatus=%d\tnotes=%q\n", rec.ID, rec.Status, rec.Notes)
	}
}

// runRegisterGate drives register_gate over a direct TCP connection to
// a running gate, the internal/netlink stand-in for the NFC P2P link
// pkg/channel's Initiator/Target contracts were built transport-agnostic
// to accommodate.
func runRegisterGate(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("register-gate", flag.ExitOnError)
	addr := fs.String("addr", "", "gate address host:port (required)")
	gateIDFlag := fs.String("gate-id", "", "gate id to register as (required)")
	notes := fs.String("notes", "", "notes (optional)")
	timeout := fs.Duration("timeout", 10*time.Second, "per-exchange timeout")
	fs.Parse(args)
	if strings.TrimSpace(*addr) == "" || strings.TrimSpace(*gateIDFlag) == "" {
		log.Fatalf("-addr and -gate-id are required")
	}
	gateID := parseGateID(*gateIDFlag)

	keymaker := unsealIdentity(cfg)

	conn, err := netlink.Dial(*addr, *timeout)
	if err != nil {
		log.Fatalf("dialing gate: %v", err)
	}
	defer conn.Close()

	sess, err := channel.HandshakeInitiator(conn, keymaker.Secret, keymaker.Public, *timeout)
	if err != nil {
		log.Fatalf("channel handshake failed: %v", err)
	}

	link := &rpc.InitiatorLink{Session: sess, Peer: conn, Timeout: *timeout}
	bridge := rpc.NewBridge(link)

	w := rpc.NewWriter()
	w.WriteUint32(uint32(gateID))
	resp, err := bridge.RemoteInvoke(string(gateproto.CmdRegisterGate), w.Bytes())
	if err != nil {
		log.Fatalf("register_gate failed: %v", err)
	}
	r := rpc.NewReader(resp)
	gateBaseKey := r.ReadFixed(32)
	if err := r.Done(); err != nil {
		log.Fatalf("decoding register_gate response: %v", err)
	}

	fmt.Printf("registered gate %d, base key: %s\n", gateID, hex.EncodeToString(gateBaseKey))

	rec := state.GateRecord{
		ID:          uint32(gateID),
		Status:      state.StatusInitialized,
		GatePubKey:  sess.PeerPublicKey(),
		Notes:       *notes,
	}
	copy(rec.GateBaseKey[:], gateBaseKey)
	store := openStore(cfg)
	if err := state.SaveGateRecord(store, rec); err != nil {
		log.Fatalf("saving gate record: %v", err)
	}
}
