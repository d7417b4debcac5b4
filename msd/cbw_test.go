package msd

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildCBW(tag, expLen uint32, flags, lun, cdbLen byte, cdb []byte) []byte {
	buf := make([]byte, CBWLen)
	binary.LittleEndian.PutUint32(buf[0:4], cbwSignature)
	binary.LittleEndian.PutUint32(buf[4:8], tag)
	binary.LittleEndian.PutUint32(buf[8:12], expLen)
	buf[12] = flags
	buf[13] = lun
	buf[14] = cdbLen
	copy(buf[15:], cdb)
	return buf
}

func TestParseCBWRoundTrip(t *testing.T) {
	cdb := []byte{0x28, 0, 0, 0, 0, 0, 0, 0, 1, 0}
	raw := buildCBW(0x1234, 2048, cbwFlagDataIn, 0, byte(len(cdb)), cdb)

	cbw, err := ParseCBW(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1234), cbw.Tag)
	require.Equal(t, uint32(2048), cbw.ExpDataLen)
	require.True(t, cbw.DataIn())
	require.Equal(t, byte(len(cdb)), cbw.CDBLen)
	require.Equal(t, cdb, cbw.CDB[:cbw.CDBLen])
}

func TestParseCBWRejectsBadLength(t *testing.T) {
	_, err := ParseCBW(make([]byte, CBWLen-1))
	require.Error(t, err)
}

func TestParseCBWRejectsOversizeCDBLen(t *testing.T) {
	// The wire field is 5 bits (0-31) but CDB only holds 16 bytes; a
	// peer claiming 17-31 must be rejected rather than overrun CDB's
	// backing array on a later slice.
	raw := buildCBW(1, 0, 0, 0, 20, nil)
	_, err := ParseCBW(raw)
	require.Error(t, err)
}

func TestParseCBWRejectsBadSignature(t *testing.T) {
	raw := buildCBW(1, 0, 0, 0, 0, nil)
	raw[0] = 0
	_, err := ParseCBW(raw)
	require.Error(t, err)
}

func TestCSWBytesRoundTrip(t *testing.T) {
	csw := CSW{Tag: 0xdeadbeef, Residue: 42, Status: StatusFailed}
	raw := csw.Bytes()
	require.Len(t, raw, CSWLen)
	require.Equal(t, uint32(cswSignature), binary.LittleEndian.Uint32(raw[0:4]))
	require.Equal(t, csw.Tag, binary.LittleEndian.Uint32(raw[4:8]))
	require.Equal(t, csw.Residue, binary.LittleEndian.Uint32(raw[8:12]))
	require.Equal(t, byte(csw.Status), raw[12])
}
