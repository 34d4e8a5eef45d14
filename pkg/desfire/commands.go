package desfire

import "fmt"

// AppID is a 3-byte DESFire application identifier.
type AppID [3]byte

// ChangeKey changes a key slot using DESFire ChangeKey (INS 0xC4), with
// cross-slot support: XOR(new,old) + version + CRC(new)[+ CRC(old) when
// changing the slot currently authenticated against].
func ChangeKey(t Transmitter, sess *Session, keySlot byte, newKey, oldKey []byte, keyVersion byte) error {
	changingSameKey := keySlot == sess.KeyNo()

	var keyData []byte
	if changingSameKey {
		keyData = make([]byte, 25)
	} else {
		keyData = make([]byte, 21)
	}

	for i := 0; i < 16; i++ {
		keyData[i] = newKey[i] ^ oldKey[i]
	}
	keyData[16] = keyVersion

	crcNew := CRC32DESFire(newKey)
	keyData[17] = byte(crcNew)
	keyData[18] = byte(crcNew >> 8)
	keyData[19] = byte(crcNew >> 16)
	keyData[20] = byte(crcNew >> 24)

	if changingSameKey {
		crcOld := CRC32DESFire(oldKey)
		keyData[21] = byte(crcOld)
		keyData[22] = byte(crcOld >> 8)
		keyData[23] = byte(crcOld >> 16)
		keyData[24] = byte(crcOld >> 24)
	}

	_, err := SsmCmdFull(t, sess, 0xC4, []byte{keySlot}, keyData)
	return err
}

// ChangeKeySame changes the same key slot used for authentication. This
// invalidates the session: the response carries no CMAC, so the APDU is
// built and checked without the usual SsmCmdFull round trip.
func ChangeKeySame(t Transmitter, sess *Session, keySlot byte, newKey []byte, keyVersion byte) error {
	keyData := make([]byte, 17)
	copy(keyData, newKey)
	keyData[16] = keyVersion
	padded := padISO9797M2(keyData)

	ivcIn := make([]byte, 16)
	ivcIn[0] = 0xA5
	ivcIn[1] = 0x5A
	copy(ivcIn[2:6], sess.ti[:])
	ivcIn[6] = byte(sess.cmdCtr & 0xFF)
	ivcIn[7] = byte((sess.cmdCtr >> 8) & 0xFF)
	ivc, err := aesECBEncrypt(sess.kenc[:], ivcIn)
	if err != nil {
		return err
	}

	encData, err := aesCBCEncrypt(sess.kenc[:], ivc, padded)
	if err != nil {
		return err
	}

	header := []byte{keySlot}
	macInput := make([]byte, 0, 1+2+4+len(header)+len(encData))
	macInput = append(macInput, 0xC4)
	macInput = append(macInput, byte(sess.cmdCtr&0xFF), byte((sess.cmdCtr>>8)&0xFF))
	macInput = append(macInput, sess.ti[:]...)
	macInput = append(macInput, header...)
	macInput = append(macInput, encData...)

	cmac, err := aesCMAC(sess.kmac[:], macInput)
	if err != nil {
		return err
	}
	mact := truncateOddBytes(cmac)

	dataLen := len(header) + len(encData) + len(mact)
	apdu := make([]byte, 0, 6+dataLen)
	apdu = append(apdu, 0x90, 0xC4, 0x00, 0x00, byte(dataLen))
	apdu = append(apdu, header...)
	apdu = append(apdu, encData...)
	apdu = append(apdu, mact...)
	apdu = append(apdu, 0x00)

	_, sw, err := Transmit(t, apdu)
	if err != nil {
		return err
	}
	if sw != SWDESFireOK {
		return &SWError{Cmd: 0xC4, SW: sw}
	}
	return nil
}

// SelectApplication selects the application with the given AID (INS 0x5A).
// The zero AppID selects the PICC root.
func SelectApplication(t Transmitter, aid AppID) error {
	apdu := []byte{0x90, 0x5A, 0x00, 0x00, 0x03, aid[0], aid[1], aid[2], 0x00}
	_, sw, err := Transmit(t, apdu)
	if err != nil {
		return err
	}
	if !SwOK(sw) {
		return &SWError{Cmd: 0x5A, SW: sw}
	}
	return nil
}

// GetApplicationIDs lists every application on the card (INS 0x6A).
func GetApplicationIDs(t Transmitter) ([]AppID, error) {
	data, sw, err := Transmit(t, []byte{0x90, 0x6A, 0x00, 0x00, 0x00})
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: 0x6A, SW: sw}
	}
	if len(data)%3 != 0 {
		return nil, fmt.Errorf("GetApplicationIDs: response not a multiple of 3 bytes")
	}
	out := make([]AppID, 0, len(data)/3)
	for i := 0; i < len(data); i += 3 {
		out = append(out, AppID{data[i], data[i+1], data[i+2]})
	}
	return out, nil
}

// CreateApplication creates an application (INS 0xCA). keySettings is the
// single key-settings byte; numKeys packs the cipher-suite nibble and the
// extra-key-count nibble as DESFire expects.
func CreateApplication(t Transmitter, sess *Session, aid AppID, keySettings, numKeys byte) error {
	data := []byte{aid[0], aid[1], aid[2], keySettings, numKeys}
	_, err := SsmCmdFull(t, sess, 0xCA, nil, data)
	return err
}

// DeleteApplication deletes an application (INS 0xDA). Must be called
// while authenticated at the PICC root with the master key.
func DeleteApplication(t Transmitter, sess *Session, aid AppID) error {
	_, err := SsmCmdFull(t, sess, 0xDA, nil, []byte{aid[0], aid[1], aid[2]})
	return err
}

// CreateFile creates a standard data file (INS 0xCD) of the given size
// with the given comm-mode/access-rights byte pair.
func CreateFile(t Transmitter, sess *Session, fileNo byte, commMode, ar1, ar2 byte, size int) error {
	data := []byte{
		commMode, ar1, ar2,
		byte(size), byte(size >> 8), byte(size >> 16),
	}
	_, err := SsmCmdFull(t, sess, 0xCD, []byte{fileNo}, data)
	return err
}

// DeleteFile deletes a file (INS 0xDF).
func DeleteFile(t Transmitter, sess *Session, fileNo byte) error {
	_, err := SsmCmdFull(t, sess, 0xDF, []byte{fileNo}, nil)
	return err
}

// GetFileIDs lists every file ID in the selected application (INS 0x6F).
func GetFileIDs(t Transmitter) ([]byte, error) {
	data, sw, err := Transmit(t, []byte{0x90, 0x6F, 0x00, 0x00, 0x00})
	if err != nil {
		return nil, err
	}
	if !SwOK(sw) {
		return nil, &SWError{Cmd: 0x6F, SW: sw}
	}
	return data, nil
}

// RawFileSettings is the parsed response of GetFileSettings for a
// standard data file: comm mode and the two access-rights bytes.
type RawFileSettings struct {
	FileType byte
	CommMode byte
	AR1      byte
	AR2      byte
	Size     int
}

// GetFileSettings reads a file's settings (INS 0xF5) over secure messaging.
func GetFileSettings(t Transmitter, sess *Session, fileNo byte) (*RawFileSettings, error) {
	resp, err := SsmCmdFull(t, sess, 0xF5, []byte{fileNo}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp) < 7 {
		return nil, fmt.Errorf("GetFileSettings: response too short")
	}
	return &RawFileSettings{
		FileType: resp[0],
		CommMode: resp[1],
		AR1:      resp[2],
		AR2:      resp[3],
		Size:     int(resp[4]) | int(resp[5])<<8 | int(resp[6])<<16,
	}, nil
}

// ChangeFileSettings rewrites a file's comm-mode/access-rights byte pair
// (INS 0x5F). Must be authenticated with the key in the change-rights
// nibble (or the app master key, if that nibble allows it).
func ChangeFileSettings(t Transmitter, sess *Session, fileNo, commMode, ar1, ar2 byte) error {
	_, err := SsmCmdFull(t, sess, 0x5F, []byte{fileNo}, []byte{commMode, ar1, ar2})
	return err
}

// ReadData reads a byte range from a standard data file (INS 0xBD) over
// secure messaging.
func ReadData(t Transmitter, sess *Session, fileNo byte, offset, length int) ([]byte, error) {
	cmdData := []byte{
		fileNo,
		byte(offset), byte(offset >> 8), byte(offset >> 16),
		byte(length), byte(length >> 8), byte(length >> 16),
	}
	data, err := SsmCmdFull(t, sess, 0xBD, nil, cmdData)
	if err != nil {
		if sw, ok := err.(*SWError); ok && sw.SW == SWBoundaryError {
			return []byte{}, nil
		}
		return nil, err
	}
	return data, nil
}

// WriteData writes a byte range to a standard data file (INS 0x3D) over
// secure messaging.
func WriteData(t Transmitter, sess *Session, fileNo byte, offset int, data []byte) error {
	cmdData := make([]byte, 0, 7+len(data))
	cmdData = append(cmdData, fileNo,
		byte(offset), byte(offset>>8), byte(offset>>16),
		byte(len(data)), byte(len(data)>>8), byte(len(data)>>16))
	cmdData = append(cmdData, data...)
	_, err := SsmCmdFull(t, sess, 0x3D, nil, cmdData)
	return err
}

// FormatPICC erases every application and file on the card (INS 0xFC),
// while authenticated at the PICC root with the master key.
func FormatPICC(t Transmitter, sess *Session) error {
	_, err := SsmCmdFull(t, sess, 0xFC, nil, nil)
	return err
}

// GetCardUID retrieves the card UID via ISO 7816 GET DATA (FF CA 00 00).
func GetCardUID(t Transmitter) ([]byte, error) {
	for _, le := range []byte{0x00, 0x07, 0x04} {
		apdu := []byte{0xFF, 0xCA, 0x00, 0x00, le}
		data, sw, err := Transmit(t, apdu)
		if err == nil && SwOK(sw) && len(data) > 0 {
			return data, nil
		}
	}
	return nil, fmt.Errorf("UID not available via GET DATA")
}
