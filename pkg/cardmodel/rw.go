package cardmodel

import "errors"

// rootAID is the PICC root, selected with the empty application id.
var rootAID = AppID{0, 0, 0}

var zeroAES128 = make([]byte, 16)

// ReadGateFile logs in with key (which must carry gid.KeyNo()), reads
// gid's file in full, and returns its raw payload. checkApp/checkFile
// request the matching cascade invariant check before reading.
func ReadGateFile(card Card, gid GateID, key []byte, checkApp, checkFile bool) ([]byte, error) {
	if checkApp {
		if r := CheckGateApp(card, gid); r.Err != nil {
			return nil, r.Err
		} else if !r.Exists {
			return nil, newErr(KindAppIntegrityError, nil, "gate app %08x has the wrong shape", uint32(gid.AppOrdinal()))
		}
	}
	// The file check re-selects the application, which drops any session,
	// so it runs before logging in.
	if checkFile {
		if r := CheckGateFile(card, gid); r.Err != nil {
			return nil, r.Err
		} else if !r.Exists {
			return nil, newErr(KindFileIntegrityError, nil, "gate file %d has the wrong shape", gid.FID())
		}
	}
	if err := card.SelectApplication(gid.AID()); err != nil {
		return nil, err
	}
	if err := card.Authenticate(gid.KeyNo(), key); err != nil {
		return nil, err
	}
	fs, err := card.GetFileSettings(gid.FID())
	if err != nil {
		return nil, err
	}
	return card.ReadData(gid.FID(), 0, fs.Size, CipherModeFull)
}

// WriteGateFile logs in with masterKey (key 0), deletes any existing
// file at gid.FID(), creates a fresh file with the invariant settings,
// and writes data. The card is left unauthenticated on this app
// afterward.
func WriteGateFile(card Card, gid GateID, masterKey []byte, data []byte, checkApp bool) error {
	if checkApp {
		if r := CheckGateApp(card, gid); r.Err != nil {
			return r.Err
		} else if !r.Exists {
			return newErr(KindAppIntegrityError, nil, "gate app %08x has the wrong shape", uint32(gid.AppOrdinal()))
		}
	}
	if err := card.SelectApplication(gid.AID()); err != nil {
		return err
	}
	if err := card.Authenticate(0, masterKey); err != nil {
		return err
	}
	if err := card.DeleteFile(gid.FID()); err != nil && !errors.Is(err, ErrFileNotFound) {
		return err
	}
	if err := card.CreateFile(gid.FID(), fileSettingsForKey(gid.KeyNo(), len(data))); err != nil {
		return err
	}
	if err := card.WriteData(gid.FID(), 0, data, CipherModeFull); err != nil {
		return err
	}
	// Re-selecting the application drops the authenticated session.
	return card.SelectApplication(gid.AID())
}

// DeleteGateFile removes gid's file, tolerating its absence.
func DeleteGateFile(card Card, gid GateID, masterKey []byte) error {
	if err := card.SelectApplication(gid.AID()); err != nil {
		return err
	}
	if err := card.Authenticate(0, masterKey); err != nil {
		return err
	}
	if err := card.DeleteFile(gid.FID()); err != nil && !errors.Is(err, ErrFileNotFound) {
		return err
	}
	return nil
}

// ReadMasterFile is ReadGateFile specialized to the master app's file 0,
// key 0.
func ReadMasterFile(card Card, masterKey []byte, checkApp, checkFile bool) ([]byte, error) {
	if checkApp {
		if r := CheckMasterApp(card); r.Err != nil {
			return nil, r.Err
		} else if !r.Exists {
			return nil, newErr(KindAppIntegrityError, nil, "master app has the wrong shape")
		}
	}
	if checkFile {
		if r := CheckMasterFile(card); r.Err != nil {
			return nil, r.Err
		} else if !r.Exists {
			return nil, newErr(KindFileIntegrityError, nil, "master file has the wrong shape")
		}
	}
	if err := card.SelectApplication(MasterAID); err != nil {
		return nil, err
	}
	if err := card.Authenticate(0, masterKey); err != nil {
		return nil, err
	}
	fs, err := card.GetFileSettings(0)
	if err != nil {
		return nil, err
	}
	return card.ReadData(0, 0, fs.Size, CipherModeFull)
}

// WriteMasterFile is WriteGateFile specialized to the master app's file
// 0, key 0.
func WriteMasterFile(card Card, masterKey []byte, data []byte, checkApp bool) error {
	if checkApp {
		if r := CheckMasterApp(card); r.Err != nil {
			return r.Err
		} else if !r.Exists {
			return newErr(KindAppIntegrityError, nil, "master app has the wrong shape")
		}
	}
	if err := card.SelectApplication(MasterAID); err != nil {
		return err
	}
	if err := card.Authenticate(0, masterKey); err != nil {
		return err
	}
	if err := card.DeleteFile(0); err != nil && !errors.Is(err, ErrFileNotFound) {
		return err
	}
	if err := card.CreateFile(0, fileSettingsForKey(0, len(data))); err != nil {
		return err
	}
	if err := card.WriteData(0, 0, data, CipherModeFull); err != nil {
		return err
	}
	return card.SelectApplication(MasterAID)
}
