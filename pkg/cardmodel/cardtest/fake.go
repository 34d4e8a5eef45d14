// Package cardtest provides an in-memory cardmodel.Card double for
// exercising pkg/cardmodel and its callers without real hardware.
package cardtest

import (
	"bytes"

	"github.com/clavisys/keycard/pkg/cardmodel"
)

type fileEntry struct {
	settings cardmodel.FileSettings
	data     []byte
}

type appEntry struct {
	keySettings byte
	numKeys     byte
	keys        map[byte][]byte
	files       map[byte]*fileEntry
}

func newApp(keySettings, numKeys byte) *appEntry {
	a := &appEntry{keySettings: keySettings, numKeys: numKeys, keys: make(map[byte][]byte), files: make(map[byte]*fileEntry)}
	for i := byte(0); i < numKeys&0x0F; i++ {
		a.keys[i] = append([]byte(nil), zeroKey...)
	}
	return a
}

var zeroKey = make([]byte, 16)

// Card is a fake DESFire-family card: an in-memory map of applications,
// their key slots, and their files, enforcing only the authentication
// and selection discipline cardmodel relies on.
type Card struct {
	TokenID [7]byte

	apps          map[cardmodel.AppID]*appEntry
	currentApp    cardmodel.AppID
	selected      bool
	authenticated bool
	authKeyNo     byte

	cardAbsent bool
}

// New returns a freshly formatted card: only the PICC root exists, with
// its master key (slot 0) at the factory-default all-zero value.
func New(tokenID [7]byte) *Card {
	c := &Card{TokenID: tokenID}
	c.reset()
	return c
}

func (c *Card) reset() {
	c.apps = map[cardmodel.AppID]*appEntry{
		{0, 0, 0}: newApp(0x0F, 0x81),
	}
	c.selected = false
	c.authenticated = false
}

// SetCardAbsent makes every subsequent call fail as if the card had
// been pulled from the field, for exercising responder absence paths.
func (c *Card) SetCardAbsent(absent bool) { c.cardAbsent = absent }

func (c *Card) absentErr() error {
	return &cardmodel.Error{Kind: cardmodel.KindControllerError, Msg: "card absent"}
}

func (c *Card) SelectApplication(aid cardmodel.AppID) error {
	if c.cardAbsent {
		return c.absentErr()
	}
	if _, ok := c.apps[aid]; !ok {
		return &cardmodel.Error{Kind: cardmodel.KindAppNotFound, Msg: "no such application"}
	}
	c.currentApp = aid
	c.selected = true
	c.authenticated = false
	return nil
}

func (c *Card) Authenticate(keyNo byte, key []byte) error {
	if c.cardAbsent {
		return c.absentErr()
	}
	if !c.selected {
		return &cardmodel.Error{Kind: cardmodel.KindParameterError, Msg: "no application selected"}
	}
	app := c.apps[c.currentApp]
	stored, ok := app.keys[keyNo]
	if !ok || !bytes.Equal(stored, key) {
		c.authenticated = false
		return &cardmodel.Error{Kind: cardmodel.KindAuthenticationErr, Msg: "key mismatch"}
	}
	c.authenticated = true
	c.authKeyNo = keyNo
	return nil
}

func (c *Card) ChangeKey(keyNo byte, newKey, oldKey []byte, version byte) error {
	if c.cardAbsent {
		return c.absentErr()
	}
	if !c.authenticated {
		return &cardmodel.Error{Kind: cardmodel.KindAuthenticationErr, Msg: "not authenticated"}
	}
	app := c.apps[c.currentApp]
	if keyNo != c.authKeyNo && c.authKeyNo != 0 {
		return &cardmodel.Error{Kind: cardmodel.KindPermissionDenied, Msg: "only the master key may change another slot"}
	}
	if keyNo != c.authKeyNo {
		if !bytes.Equal(app.keys[keyNo], oldKey) {
			return &cardmodel.Error{Kind: cardmodel.KindAuthenticationErr, Msg: "old key mismatch"}
		}
	}
	app.keys[keyNo] = append([]byte(nil), newKey...)
	c.authenticated = false
	return nil
}

func (c *Card) CreateApplication(aid cardmodel.AppID, keySettings byte, numKeys byte) error {
	if c.cardAbsent {
		return c.absentErr()
	}
	if _, ok := c.apps[aid]; ok {
		return &cardmodel.Error{Kind: cardmodel.KindPiccIntegrityError, Msg: "application already exists"}
	}
	c.apps[aid] = newApp(keySettings, numKeys)
	return nil
}

func (c *Card) DeleteApplication(aid cardmodel.AppID) error {
	if c.cardAbsent {
		return c.absentErr()
	}
	if _, ok := c.apps[aid]; !ok {
		return &cardmodel.Error{Kind: cardmodel.KindAppNotFound, Msg: "no such application"}
	}
	delete(c.apps, aid)
	return nil
}

func (c *Card) ListApplicationIDs() ([]cardmodel.AppID, error) {
	if c.cardAbsent {
		return nil, c.absentErr()
	}
	var out []cardmodel.AppID
	for aid := range c.apps {
		if aid == (cardmodel.AppID{0, 0, 0}) {
			continue
		}
		out = append(out, aid)
	}
	return out, nil
}

func (c *Card) ListFileIDs() ([]byte, error) {
	if c.cardAbsent {
		return nil, c.absentErr()
	}
	app := c.apps[c.currentApp]
	var out []byte
	for fileNo := range app.files {
		out = append(out, fileNo)
	}
	return out, nil
}

func (c *Card) CreateFile(fileNo byte, settings cardmodel.FileSettings) error {
	if c.cardAbsent {
		return c.absentErr()
	}
	if !c.authenticated {
		return &cardmodel.Error{Kind: cardmodel.KindAuthenticationErr, Msg: "not authenticated"}
	}
	app := c.apps[c.currentApp]
	if _, ok := app.files[fileNo]; ok {
		return &cardmodel.Error{Kind: cardmodel.KindFileIntegrityError, Msg: "file already exists"}
	}
	app.files[fileNo] = &fileEntry{settings: settings, data: make([]byte, settings.Size)}
	return nil
}

func (c *Card) DeleteFile(fileNo byte) error {
	if c.cardAbsent {
		return c.absentErr()
	}
	if !c.authenticated {
		return &cardmodel.Error{Kind: cardmodel.KindAuthenticationErr, Msg: "not authenticated"}
	}
	app := c.apps[c.currentApp]
	if _, ok := app.files[fileNo]; !ok {
		return &cardmodel.Error{Kind: cardmodel.KindFileNotFound, Msg: "no such file"}
	}
	delete(app.files, fileNo)
	return nil
}

func (c *Card) GetFileSettings(fileNo byte) (*cardmodel.FileSettings, error) {
	if c.cardAbsent {
		return nil, c.absentErr()
	}
	app := c.apps[c.currentApp]
	f, ok := app.files[fileNo]
	if !ok {
		return nil, &cardmodel.Error{Kind: cardmodel.KindFileNotFound, Msg: "no such file"}
	}
	s := f.settings
	return &s, nil
}

func (c *Card) ChangeFileSettings(fileNo byte, settings cardmodel.FileSettings) error {
	if c.cardAbsent {
		return c.absentErr()
	}
	app := c.apps[c.currentApp]
	f, ok := app.files[fileNo]
	if !ok {
		return &cardmodel.Error{Kind: cardmodel.KindFileNotFound, Msg: "no such file"}
	}
	f.settings = settings
	return nil
}

func (c *Card) ReadData(fileNo byte, offset, length int, mode cardmodel.CipherMode) ([]byte, error) {
	if c.cardAbsent {
		return nil, c.absentErr()
	}
	if !c.authenticated {
		return nil, &cardmodel.Error{Kind: cardmodel.KindAuthenticationErr, Msg: "not authenticated"}
	}
	app := c.apps[c.currentApp]
	f, ok := app.files[fileNo]
	if !ok {
		return nil, &cardmodel.Error{Kind: cardmodel.KindFileNotFound, Msg: "no such file"}
	}
	if length == 0 {
		length = len(f.data) - offset
	}
	if offset < 0 || offset+length > len(f.data) {
		return nil, &cardmodel.Error{Kind: cardmodel.KindParameterError, Msg: "out of bounds read"}
	}
	out := make([]byte, length)
	copy(out, f.data[offset:offset+length])
	return out, nil
}

func (c *Card) WriteData(fileNo byte, offset int, data []byte, mode cardmodel.CipherMode) error {
	if c.cardAbsent {
		return c.absentErr()
	}
	if !c.authenticated {
		return &cardmodel.Error{Kind: cardmodel.KindAuthenticationErr, Msg: "not authenticated"}
	}
	app := c.apps[c.currentApp]
	f, ok := app.files[fileNo]
	if !ok {
		return &cardmodel.Error{Kind: cardmodel.KindFileNotFound, Msg: "no such file"}
	}
	if offset+len(data) > len(f.data) {
		grown := make([]byte, offset+len(data))
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:], data)
	return nil
}

func (c *Card) FormatPICC() error {
	if c.cardAbsent {
		return c.absentErr()
	}
	c.reset()
	return nil
}

func (c *Card) GetID() ([7]byte, error) {
	if c.cardAbsent {
		return [7]byte{}, c.absentErr()
	}
	return c.TokenID, nil
}
