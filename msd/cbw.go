// Package msd implements the USB Mass Storage Bulk-Only Transport state
// machine (CBW/CSW framing, DATAOUT/DATAIN/CSW phases) wrapping a cdscsi
// Target: this is the Go equivalent of the engine's usb_cd_bulk_msd_device,
// generalized away from a single persistent request struct to letting the
// cdscsi.Target gate one in-flight command at a time.
package msd

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// CBWLen is the fixed wire size of a Command Block Wrapper.
	CBWLen = 31
	// CSWLen is the fixed wire size of a Command Status Wrapper.
	CSWLen = 13

	cbwSignature = 0x43425355
	cswSignature = 0x53425355

	cbwFlagDataIn = 0x80
)

// Status is the USB MSD command status byte, reported in the CSW.
type Status byte

const (
	StatusGood     Status = 0
	StatusFailed   Status = 1
	StatusPhaseErr Status = 2
)

var (
	errBadCBWLen    = errors.New("msd: bad CBW length")
	errBadCBWSig    = errors.New("msd: bad CBW signature")
	errBadCBWCDBLen = errors.New("msd: bad CBW cdb length")
)

// CBW is a parsed Command Block Wrapper.
type CBW struct {
	Tag        uint32
	ExpDataLen uint32
	Flags      byte
	LUN        byte
	CDBLen     byte
	CDB        [16]byte
}

// DataIn reports whether the host expects a device-to-host data phase.
func (c *CBW) DataIn() bool { return c.Flags&cbwFlagDataIn != 0 }

// ParseCBW decodes a 31-byte Command Block Wrapper, mirroring
// parse_usb_msd_cmd's signature and length checks.
func ParseCBW(buf []byte) (*CBW, error) {
	if len(buf) != CBWLen {
		return nil, errBadCBWLen
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != cbwSignature {
		return nil, errBadCBWSig
	}

	c := &CBW{
		Tag:        binary.LittleEndian.Uint32(buf[4:8]),
		ExpDataLen: binary.LittleEndian.Uint32(buf[8:12]),
		Flags:      buf[12],
		LUN:        buf[13],
		CDBLen:     buf[14] & 0x1f,
	}
	// The wire field is 5 bits wide (0-31) but CDB is a 16-byte array, as
	// spec.md's own CBW layout notes ("CDB length (<=16, low 5 bits)"); a
	// peer claiming more than 16 is a malformed CBW, not a longer CDB.
	if c.CDBLen > 16 {
		return nil, errBadCBWCDBLen
	}
	copy(c.CDB[:], buf[15:31])
	return c, nil
}

// CSW is a Command Status Wrapper, the 13-byte reply to a CBW.
type CSW struct {
	Tag     uint32
	Residue uint32
	Status  Status
}

// Bytes encodes the CSW to its 13-byte wire form.
func (c *CSW) Bytes() []byte {
	buf := make([]byte, CSWLen)
	binary.LittleEndian.PutUint32(buf[0:4], cswSignature)
	binary.LittleEndian.PutUint32(buf[4:8], c.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], c.Residue)
	buf[12] = byte(c.Status)
	return buf
}
