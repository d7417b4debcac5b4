package scsi

import "encoding/binary"

// LBA extracts the logical block address field from cdb, a full CDB of
// whatever length CDBLength(cdb[0]) reports. Field position varies by CDB
// group; this generalizes the teacher's per-struct LBA() accessor into one
// function that switches on the CDB's length instead of a request type.
func LBA(cdb []byte) uint64 {
	switch len(cdb) {
	case 6:
		// 21-bit LBA packed into the low 5 bits of cdb[1] plus cdb[2..3].
		return uint64(cdb[1]&0x1f)<<16 | uint64(cdb[2])<<8 | uint64(cdb[3])
	case 10, 12:
		return uint64(binary.BigEndian.Uint32(cdb[2:6]))
	case 16:
		return binary.BigEndian.Uint64(cdb[2:10])
	default:
		return 0
	}
}

// XferLen extracts the transfer-length field from cdb, in whatever unit
// the opcode defines (blocks for READ/WRITE, bytes for most others).
func XferLen(cdb []byte) uint32 {
	switch len(cdb) {
	case 6:
		return uint32(cdb[4])
	case 10:
		return uint32(binary.BigEndian.Uint16(cdb[7:9]))
	case 12:
		return binary.BigEndian.Uint32(cdb[6:10])
	case 16:
		return binary.BigEndian.Uint32(cdb[10:14])
	default:
		return 0
	}
}

// AllocationLength is an alias for XferLen used at call sites where the
// field holds an allocation length (REPORT LUNS) rather than a block
// count, so the caller's intent reads clearly.
func AllocationLength(cdb []byte) uint32 { return XferLen(cdb) }

// PutLBA32 writes v into the LBA field of a pre-sized buf (a response data
// block, e.g. READ CAPACITY or READ TOC track descriptors), big-endian.
func PutLBA32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
