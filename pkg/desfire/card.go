package desfire

import "github.com/clavisys/keycard/pkg/cardmodel"

// Card adapts a Transmitter into cardmodel.Card, translating status-word
// errors into the typed taxonomy the core inspects by value. A single
// Card instance holds at most one live Session; composite operations in
// pkg/cardmodel must not run two at once against it (see the
// concurrency notes on card handle ownership).
type Card struct {
	t    Transmitter
	sess *Session
}

// NewCard wraps a raw APDU transmitter.
func NewCard(t Transmitter) *Card {
	return &Card{t: t}
}

func classify(cmd byte, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case IsAuthError(err):
		return &cardmodel.Error{Kind: cardmodel.KindAuthenticationErr, Msg: "card rejected authentication", Cause: err}
	case IsPermissionDenied(err):
		return &cardmodel.Error{Kind: cardmodel.KindPermissionDenied, Msg: "permission denied", Cause: err}
	case IsAppNotFound(err):
		return &cardmodel.Error{Kind: cardmodel.KindAppNotFound, Msg: "application not found", Cause: err}
	case IsFileNotFound(err):
		return &cardmodel.Error{Kind: cardmodel.KindFileNotFound, Msg: "file not found", Cause: err}
	}
	return &cardmodel.Error{Kind: cardmodel.KindControllerError, Msg: "card command failed", Cause: err}
}

func (c *Card) SelectApplication(aid cardmodel.AppID) error {
	err := SelectApplication(c.t, AppID(aid))
	c.sess = nil
	if err != nil {
		return classify(0x5A, err)
	}
	return nil
}

func (c *Card) Authenticate(keyNo byte, key []byte) error {
	sess, err := AuthenticateEV2First(c.t, key, keyNo)
	if err != nil {
		return classify(0x71, err)
	}
	c.sess = sess
	return nil
}

func (c *Card) ChangeKey(keyNo byte, newKey, oldKey []byte, version byte) error {
	if c.sess == nil {
		return &cardmodel.Error{Kind: cardmodel.KindAuthenticationErr, Msg: "ChangeKey without an active session"}
	}
	var err error
	if keyNo == c.sess.KeyNo() {
		err = ChangeKeySame(c.t, c.sess, keyNo, newKey, version)
		c.sess = nil
	} else {
		err = ChangeKey(c.t, c.sess, keyNo, newKey, oldKey, version)
	}
	if err != nil {
		return classify(0xC4, err)
	}
	return nil
}

func (c *Card) CreateApplication(aid cardmodel.AppID, keySettings byte, numKeys byte) error {
	if err := CreateApplication(c.t, c.sess, AppID(aid), keySettings, numKeys); err != nil {
		return classify(0xCA, err)
	}
	return nil
}

func (c *Card) DeleteApplication(aid cardmodel.AppID) error {
	if err := DeleteApplication(c.t, c.sess, AppID(aid)); err != nil {
		return classify(0xDA, err)
	}
	return nil
}

func (c *Card) ListApplicationIDs() ([]cardmodel.AppID, error) {
	ids, err := GetApplicationIDs(c.t)
	if err != nil {
		return nil, classify(0x6A, err)
	}
	out := make([]cardmodel.AppID, len(ids))
	for i, id := range ids {
		out[i] = cardmodel.AppID(id)
	}
	return out, nil
}

func (c *Card) ListFileIDs() ([]byte, error) {
	ids, err := GetFileIDs(c.t)
	if err != nil {
		return nil, classify(0x6F, err)
	}
	return ids, nil
}

func (c *Card) CreateFile(fileNo byte, settings cardmodel.FileSettings) error {
	commMode := byte(0x03)
	if settings.CommMode == cardmodel.CipherModePlain {
		commMode = 0x00
	}
	if err := CreateFile(c.t, c.sess, fileNo, commMode, settings.AR1, settings.AR2, settings.Size); err != nil {
		return classify(0xCD, err)
	}
	return nil
}

func (c *Card) DeleteFile(fileNo byte) error {
	if err := DeleteFile(c.t, c.sess, fileNo); err != nil {
		return classify(0xDF, err)
	}
	return nil
}

func (c *Card) GetFileSettings(fileNo byte) (*cardmodel.FileSettings, error) {
	raw, err := GetFileSettings(c.t, c.sess, fileNo)
	if err != nil {
		return nil, classify(0xF5, err)
	}
	mode := cardmodel.CipherModePlain
	if raw.CommMode == 0x03 {
		mode = cardmodel.CipherModeFull
	}
	return &cardmodel.FileSettings{CommMode: mode, AR1: raw.AR1, AR2: raw.AR2, Size: raw.Size}, nil
}

func (c *Card) ChangeFileSettings(fileNo byte, settings cardmodel.FileSettings) error {
	commMode := byte(0x03)
	if settings.CommMode == cardmodel.CipherModePlain {
		commMode = 0x00
	}
	if err := ChangeFileSettings(c.t, c.sess, fileNo, commMode, settings.AR1, settings.AR2); err != nil {
		return classify(0x5F, err)
	}
	return nil
}

func (c *Card) ReadData(fileNo byte, offset, length int, mode cardmodel.CipherMode) ([]byte, error) {
	data, err := ReadData(c.t, c.sess, fileNo, offset, length)
	if err != nil {
		return nil, classify(0xBD, err)
	}
	return data, nil
}

func (c *Card) WriteData(fileNo byte, offset int, data []byte, mode cardmodel.CipherMode) error {
	if err := WriteData(c.t, c.sess, fileNo, offset, data); err != nil {
		return classify(0x3D, err)
	}
	return nil
}

func (c *Card) FormatPICC() error {
	if err := FormatPICC(c.t, c.sess); err != nil {
		return classify(0xFC, err)
	}
	return nil
}

func (c *Card) GetID() ([7]byte, error) {
	uid, err := GetCardUID(c.t)
	if err != nil {
		return [7]byte{}, classify(0xCA, err)
	}
	var out [7]byte
	n := copy(out[:], uid)
	_ = n
	return out, nil
}
