package cardmodel

import "errors"

// CheckResult is the three-way outcome of a check_* predicate: the shape
// exists and is correct (Exists=true, Err=nil), exists but is wrong
// (Exists=false, Err=nil), or failed outright (Err!=nil, cascaded from a
// lower layer).
type CheckResult struct {
	Exists bool
	Err    error
}

func ok() CheckResult                { return CheckResult{Exists: true} }
func wrong() CheckResult             { return CheckResult{Exists: false} }
func checkErr(err error) CheckResult { return CheckResult{Err: err} }

// CheckMasterApp verifies the master application is present. The Card
// contract exposes no application-settings readback verb (only
// file-level settings), so presence in the application id list is the
// full extent of what this layer can check.
func CheckMasterApp(card Card) CheckResult {
	ids, err := card.ListApplicationIDs()
	if err != nil {
		return checkErr(err)
	}
	for _, id := range ids {
		if id == MasterAID {
			return ok()
		}
	}
	return wrong()
}

// CheckMasterFile verifies file 0 of the master application matches the
// invariant shape: standard ciphered data file, readable only by key 0.
func CheckMasterFile(card Card) CheckResult {
	return checkFileShape(card, MasterAID, 0, 0)
}

// CheckGateApp verifies the application hosting gid is present.
func CheckGateApp(card Card, gid GateID) CheckResult {
	ids, err := card.ListApplicationIDs()
	if err != nil {
		return checkErr(err)
	}
	aid := gid.AID()
	for _, id := range ids {
		if id == aid {
			return ok()
		}
	}
	return wrong()
}

// CheckGateFile verifies gid's file matches the invariant shape:
// standard ciphered data file, readable only by gid.KeyNo().
func CheckGateFile(card Card, gid GateID) CheckResult {
	return checkFileShape(card, gid.AID(), gid.FID(), gid.KeyNo())
}

func checkFileShape(card Card, aid AppID, fid, keyNo byte) CheckResult {
	if err := card.SelectApplication(aid); err != nil {
		return checkErr(err)
	}
	fs, err := card.GetFileSettings(fid)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return wrong()
		}
		return checkErr(err)
	}
	want := fileSettingsForKey(keyNo, fs.Size)
	if fs.CommMode != want.CommMode || fs.AR1 != want.AR1 || fs.AR2 != want.AR2 {
		return wrong()
	}
	return ok()
}
