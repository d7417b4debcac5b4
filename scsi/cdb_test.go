package scsi

import "testing"

func TestCDBLength(t *testing.T) {
	var tests = []struct {
		desc   string
		opcode byte
		want   int
	}{
		{desc: "test unit ready is a 6-byte group", opcode: TestUnitReady, want: 6},
		{desc: "inquiry is a 6-byte group", opcode: Inquiry, want: 6},
		{desc: "read10 is a 10-byte group", opcode: Read10, want: 10},
		{desc: "mode sense 10 is a 10-byte group", opcode: ModeSense10, want: 10},
		{desc: "read16 is a 16-byte group", opcode: Read16, want: 16},
		{desc: "read12 is a 12-byte group", opcode: Read12, want: 12},
	}

	for i, tt := range tests {
		if got := CDBLength(tt.opcode); got != tt.want {
			t.Fatalf("[%02d] test %q, unexpected CDB length:\n- want: %v\n-  got: %v",
				i, tt.desc, tt.want, got)
		}
	}
}

func TestLBA(t *testing.T) {
	var tests = []struct {
		desc string
		cdb  []byte
		want uint64
	}{
		{
			desc: "6-byte CDB packs LBA into the low 21 bits",
			cdb:  []byte{Read6, 0x01, 0x02, 0x03, 0x00, 0x00},
			want: uint64(0x01)<<16 | 0x02<<8 | 0x03,
		},
		{
			desc: "10-byte CDB LBA is a plain big-endian uint32",
			cdb:  []byte{Read10, 0, 0x00, 0x00, 0x01, 0x00, 0, 0, 0, 0},
			want: 0x100,
		},
		{
			desc: "16-byte CDB LBA is a big-endian uint64",
			cdb:  append([]byte{Read16, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x00}, make([]byte, 6)...),
			want: 0x100,
		},
	}

	for i, tt := range tests {
		if got := LBA(tt.cdb); got != tt.want {
			t.Fatalf("[%02d] test %q, unexpected LBA:\n- want: %#x\n-  got: %#x",
				i, tt.desc, tt.want, got)
		}
	}
}

func TestXferLen(t *testing.T) {
	var tests = []struct {
		desc string
		cdb  []byte
		want uint32
	}{
		{
			desc: "6-byte CDB xfer length is cdb[4] verbatim",
			cdb:  []byte{Read6, 0, 0, 0, 5, 0},
			want: 5,
		},
		{
			desc: "6-byte CDB zero xfer length is zero, not 256 (READ6's 256 special case lives in cdscsi)",
			cdb:  []byte{Read6, 0, 0, 0, 0, 0},
			want: 0,
		},
		{
			desc: "10-byte CDB xfer length is a big-endian uint16 at cdb[7:9]",
			cdb:  []byte{Read10, 0, 0, 0, 0, 0, 0, 0x00, 0x10, 0},
			want: 0x10,
		},
	}

	for i, tt := range tests {
		if got := XferLen(tt.cdb); got != tt.want {
			t.Fatalf("[%02d] test %q, unexpected xfer length:\n- want: %v\n-  got: %v",
				i, tt.desc, tt.want, got)
		}
	}
}
