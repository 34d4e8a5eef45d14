package cardmodel

// CipherMode selects the secure-messaging mode a read/write uses.
type CipherMode int

const (
	// CipherModePlain sends data in the clear, MAC only.
	CipherModePlain CipherMode = iota
	// CipherModeFull encrypts and MACs (EV2 full secure messaging).
	CipherModeFull
)

// FileSettings describes a standard data file's comm mode and access
// rights, independent of any wire encoding.
type FileSettings struct {
	CommMode CipherMode
	// AR1/AR2 pack the four access-right nibbles: read, write,
	// read-write, change-access-rights, high nibble first in each byte
	// per the DESFire convention (AR1 = read<<4|write, AR2 =
	// readwrite<<4|change).
	AR1, AR2 byte
	Size     int
}

// Card is the verb contract every operation in this package is built on.
// It never speaks APDU bytes; pkg/desfire is the reference implementation
// against a real card, and tests implement it against an in-memory fake.
type Card interface {
	SelectApplication(aid AppID) error
	Authenticate(keyNo byte, key []byte) error
	ChangeKey(keyNo byte, newKey, oldKey []byte, version byte) error

	CreateApplication(aid AppID, keySettings byte, numKeys byte) error
	DeleteApplication(aid AppID) error
	ListApplicationIDs() ([]AppID, error)

	ListFileIDs() ([]byte, error)
	CreateFile(fileNo byte, settings FileSettings) error
	DeleteFile(fileNo byte) error
	GetFileSettings(fileNo byte) (*FileSettings, error)
	ChangeFileSettings(fileNo byte, settings FileSettings) error

	ReadData(fileNo byte, offset, length int, mode CipherMode) ([]byte, error)
	WriteData(fileNo byte, offset int, data []byte, mode CipherMode) error

	FormatPICC() error

	// GetID returns the card's token id: the 7-byte value taken from its
	// UID (see PackTokenID in pkg/keyalg for its packed
	// form).
	GetID() ([7]byte, error)
}

// Invariant access-rights and key-settings constants shared by every
// application and file this package creates, per the layout invariants:
// master-key changeable, free directory listing without auth,
// create/delete requires master auth, config not changeable once set,
// and each non-master key rotates only itself.
const (
	// AppKeySettings packs the low nibble (bit0 AMK changeable=1, bit1
	// free directory listing=1, bit2 create/delete requires master
	// auth=0, bit3 config changeable=0) as 0x3, and the high nibble
	// (change-key access rights) as 0xE so each key may only change
	// itself — never 0x0, which would let only key 0 rotate any key and
	// so reject a non-master key's own ChangeKey at rotation time.
	AppKeySettings byte = 0xE3
)

// fileSettingsForKey builds the invariant file settings for a standard
// ciphered data file readable only by keyNo: AR1=read<<4|write (keyNo<<4|0xF)
// and AR2=readwrite<<4|change (0xFF), so read=keyNo and all other rights
// are set to 0xF ("never").
func fileSettingsForKey(keyNo byte, size int) FileSettings {
	return FileSettings{
		CommMode: CipherModeFull,
		AR1:      (keyNo << 4) | 0x0F,
		AR2:      0xFF,
		Size:     size,
	}
}
