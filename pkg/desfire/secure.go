package desfire

import (
	"bytes"
	"errors"
	"fmt"
)

// BuildSsmApdu constructs a secure-messaging APDU: it encrypts data under
// the session's Kenc, computes the AES-CMAC over cmd/counter/TI/header/
// ciphertext, and assembles the final frame.
func BuildSsmApdu(sess *Session, cmd byte, header, data []byte) (apdu []byte, err error) {
	if sess == nil {
		return nil, errors.New("session is nil")
	}

	ivcIn := make([]byte, 16)
	ivcIn[0] = 0xA5
	ivcIn[1] = 0x5A
	copy(ivcIn[2:6], sess.ti[:])
	ivcIn[6] = byte(sess.cmdCtr & 0xFF)
	ivcIn[7] = byte((sess.cmdCtr >> 8) & 0xFF)
	ivc, err := aesECBEncrypt(sess.kenc[:], ivcIn)
	if err != nil {
		return nil, err
	}

	var encData []byte
	if len(data) > 0 {
		padded := padISO9797M2(data)
		encData, err = aesCBCEncrypt(sess.kenc[:], ivc, padded)
		if err != nil {
			return nil, err
		}
	}

	macInput := make([]byte, 0, len(header)+len(encData)+8)
	macInput = append(macInput, cmd)
	macInput = append(macInput, byte(sess.cmdCtr&0xFF), byte((sess.cmdCtr>>8)&0xFF))
	macInput = append(macInput, sess.ti[:]...)
	macInput = append(macInput, header...)
	macInput = append(macInput, encData...)

	cmac, err := aesCMAC(sess.kmac[:], macInput)
	if err != nil {
		return nil, err
	}
	mact := truncateOddBytes(cmac)

	dataLen := len(header) + len(encData) + len(mact)
	if dataLen > 255 {
		return nil, fmt.Errorf("APDU data too long")
	}

	apdu = make([]byte, 0, 6+dataLen)
	apdu = append(apdu, 0x90, cmd, 0x00, 0x00, byte(dataLen))
	apdu = append(apdu, header...)
	apdu = append(apdu, encData...)
	apdu = append(apdu, mact...)
	apdu = append(apdu, 0x00)
	return apdu, nil
}

// SsmCmdFull executes a secure-messaging command and verifies the
// response MAC, returning the decrypted payload. It increments the
// session's command counter on success.
func SsmCmdFull(t Transmitter, sess *Session, cmd byte, header, data []byte) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("session is nil")
	}

	apdu, err := BuildSsmApdu(sess, cmd, header, data)
	if err != nil {
		return nil, err
	}

	resp, sw, err := Transmit(t, apdu)
	if err != nil {
		return nil, err
	}
	if sw != SWDESFireOK {
		return nil, &SWError{Cmd: cmd, SW: sw}
	}
	if len(resp) < 8 {
		return nil, fmt.Errorf("response too short (len=%d, SW=%04X)", len(resp), sw)
	}

	respEncLen := len(resp) - 8
	respEnc := resp[:respEncLen]
	respMac := resp[respEncLen:]

	cmdCtr1 := sess.cmdCtr + 1
	ivrIn := make([]byte, 16)
	ivrIn[0] = 0x5A
	ivrIn[1] = 0xA5
	copy(ivrIn[2:6], sess.ti[:])
	ivrIn[6] = byte(cmdCtr1 & 0xFF)
	ivrIn[7] = byte((cmdCtr1 >> 8) & 0xFF)
	ivr, err := aesECBEncrypt(sess.kenc[:], ivrIn)
	if err != nil {
		return nil, err
	}

	macIn2 := make([]byte, 0, 8+respEncLen)
	macIn2 = append(macIn2, byte(sw&0xFF))
	macIn2 = append(macIn2, byte(cmdCtr1&0xFF), byte((cmdCtr1>>8)&0xFF))
	macIn2 = append(macIn2, sess.ti[:]...)
	macIn2 = append(macIn2, respEnc...)

	cmac2, err := aesCMAC(sess.kmac[:], macIn2)
	if err != nil {
		return nil, err
	}
	mact2 := truncateOddBytes(cmac2)
	if !bytes.Equal(respMac, mact2) {
		return nil, errors.New("response MAC mismatch")
	}

	out := []byte{}
	if respEncLen > 0 {
		dec, err := aesCBCDecrypt(sess.kenc[:], ivr, respEnc)
		if err != nil {
			return nil, err
		}
		out, err = unpadISO9797M2(dec)
		if err != nil {
			return nil, err
		}
	}

	sess.cmdCtr = cmdCtr1
	return out, nil
}
