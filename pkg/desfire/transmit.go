// Package desfire implements the DESFire-family command layer: APDU
// framing, EV2 authentication, AES-CMAC secure messaging and the
// application/file command set. It never speaks the card's business
// meaning (gates, tokens, identities) — that lives in pkg/cardmodel,
// which consumes this package only through the Card verb contract.
package desfire

import "fmt"

// Transmitter sends a raw APDU to a card and returns its raw response,
// trailing status word included. Real implementations wrap a PC/SC
// connection or an NFC reader driver; test doubles simulate a card.
type Transmitter interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Status words, ISO 7816 and DESFire native.
const (
	SWSuccess              = 0x9000
	SWSecurityNotSatisfied = 0x6982
	SWFileNotFound         = 0x6A82
	SWWrongP1P2            = 0x6A86
	SWWrongLength          = 0x6700
	SWWrongLe              = 0x6C00

	SWDESFireOK     = 0x9100
	SWMoreData      = 0x91AF
	SWLengthError   = 0x917E
	SWAuthError     = 0x91AE
	SWPermDenied    = 0x919D
	SWParameterErr  = 0x919E
	SWBoundaryError = 0x911C
	SWNoChanges     = 0x9140
	SWCommandAbort  = 0x91CA
	SWAppNotFound   = 0x91A0
	SWDuplicateErr  = 0x91DE
)

// SWError represents a status word error from the card.
type SWError struct {
	Cmd byte
	SW  uint16
}

func (e *SWError) Error() string {
	return fmt.Sprintf("card command 0x%02X failed with SW=0x%04X (%s)", e.Cmd, e.SW, swDescription(e.SW))
}

func swDescription(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWDESFireOK:
		return "DESFire OK"
	case SWMoreData:
		return "more data expected"
	case SWLengthError:
		return "length error"
	case SWAuthError:
		return "authentication error"
	case SWPermDenied:
		return "permission denied"
	case SWParameterErr:
		return "parameter error"
	case SWBoundaryError:
		return "boundary error"
	case SWNoChanges:
		return "no changes"
	case SWCommandAbort:
		return "command aborted"
	case SWSecurityNotSatisfied:
		return "security not satisfied"
	case SWFileNotFound:
		return "file not found"
	case SWAppNotFound:
		return "application not found"
	case SWDuplicateErr:
		return "duplicate / already exists"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWWrongLength:
		return "wrong length"
	default:
		if (sw & 0xFF00) == SWWrongLe {
			return fmt.Sprintf("wrong Le (correct Le=%d)", sw&0xFF)
		}
		return "unknown error"
	}
}

// SwOK reports whether sw indicates success on either status-word family.
func SwOK(sw uint16) bool {
	return sw == SWSuccess || sw == SWDESFireOK
}

// IsAuthError reports whether err is an authentication-related SWError.
func IsAuthError(err error) bool {
	if swErr, ok := err.(*SWError); ok {
		return swErr.SW == SWAuthError || swErr.SW == SWSecurityNotSatisfied
	}
	return false
}

// IsPermissionDenied reports whether err is a permission-denied SWError.
func IsPermissionDenied(err error) bool {
	if swErr, ok := err.(*SWError); ok {
		return swErr.SW == SWPermDenied
	}
	return false
}

// IsAppNotFound reports whether err signals a missing application.
func IsAppNotFound(err error) bool {
	if swErr, ok := err.(*SWError); ok {
		return swErr.SW == SWAppNotFound
	}
	return false
}

// IsFileNotFound reports whether err signals a missing file.
func IsFileNotFound(err error) bool {
	if swErr, ok := err.(*SWError); ok {
		return swErr.SW == SWFileNotFound || swErr.SW == SWBoundaryError
	}
	return false
}

// Transmit sends an APDU and splits the response into data and status word.
func Transmit(t Transmitter, apdu []byte) ([]byte, uint16, error) {
	resp, err := t.Transmit(apdu)
	if err != nil {
		return nil, 0, err
	}
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("short response: %d bytes", len(resp))
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}
