package scsi

import "testing"

func TestBuildFixedSense(t *testing.T) {
	var tests = []struct {
		desc string
		s    ShortSense
	}{
		{desc: "no sense", s: NoSense},
		{desc: "no medium", s: NoMedium},
		{desc: "invalid field", s: InvalidField},
	}

	for i, tt := range tests {
		var buf [FixedSenseLen]byte
		n := BuildFixedSense(buf[:], tt.s)
		if n != FixedSenseLen {
			t.Fatalf("[%02d] test %q, unexpected sense length:\n- want: %v\n-  got: %v",
				i, tt.desc, FixedSenseLen, n)
		}
		if buf[0] != 0x70 {
			t.Fatalf("[%02d] test %q, unexpected response code byte: %#x", i, tt.desc, buf[0])
		}
		if buf[2] != tt.s.Key {
			t.Fatalf("[%02d] test %q, unexpected sense key:\n- want: %#x\n-  got: %#x",
				i, tt.desc, tt.s.Key, buf[2])
		}
		if buf[12] != tt.s.ASC || buf[13] != tt.s.ASCQ {
			t.Fatalf("[%02d] test %q, unexpected ASC/ASCQ:\n- want: %#x/%#x\n-  got: %#x/%#x",
				i, tt.desc, tt.s.ASC, tt.s.ASCQ, buf[12], buf[13])
		}
	}
}

func TestOpcodeSuppressesUA(t *testing.T) {
	var tests = []struct {
		desc   string
		opcode byte
		want   bool
	}{
		{desc: "inquiry suppresses unit attention", opcode: Inquiry, want: true},
		{desc: "report luns suppresses unit attention", opcode: ReportLuns, want: true},
		{desc: "request sense suppresses unit attention", opcode: RequestSense, want: true},
		{desc: "read10 does not suppress unit attention", opcode: Read10, want: false},
		{desc: "test unit ready does not suppress unit attention", opcode: TestUnitReady, want: false},
	}

	for i, tt := range tests {
		if got := OpcodeSuppressesUA(tt.opcode); got != tt.want {
			t.Fatalf("[%02d] test %q, unexpected suppression:\n- want: %v\n-  got: %v",
				i, tt.desc, tt.want, got)
		}
	}
}
