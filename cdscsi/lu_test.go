package cdscsi

import (
	"testing"

	"github.com/coreos/go-usbcd/scsi"
)

type fakeStream struct {
	data []byte
}

func (f *fakeStream) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *fakeStream) Size() int64 { return int64(len(f.data)) }

func TestLURealizeLoad(t *testing.T) {
	var tests = []struct {
		desc      string
		blockSize uint32
		size      uint64
		wantBlks  uint32
	}{
		{desc: "2048-byte block size, one block", blockSize: 2048, size: 2048, wantBlks: 1},
		{desc: "2048-byte block size, four blocks", blockSize: 2048, size: 2048 * 4, wantBlks: 4},
	}

	for i, tt := range tests {
		lu := &LU{}
		lu.Realize("vendor", "product", "1.0", "serial0", 1)
		if !lu.Realized {
			t.Fatalf("[%02d] test %q, expected lu to be realized", i, tt.desc)
		}
		if lu.Sense().Key != scsi.SenseUnitAttention {
			t.Fatalf("[%02d] test %q, expected power-on unit attention, got key %#x",
				i, tt.desc, lu.Sense().Key)
		}

		stream := &fakeStream{data: make([]byte, tt.size)}
		if err := lu.Load(stream, tt.size, tt.blockSize); err != nil {
			t.Fatalf("[%02d] test %q, unexpected Load error: %v", i, tt.desc, err)
		}
		if lu.NumBlocks != tt.wantBlks {
			t.Fatalf("[%02d] test %q, unexpected block count:\n- want: %v\n-  got: %v",
				i, tt.desc, tt.wantBlks, lu.NumBlocks)
		}
		if err := lu.Load(stream, tt.size, tt.blockSize); err != errAlreadyLoaded {
			t.Fatalf("[%02d] test %q, expected errAlreadyLoaded on double Load, got: %v", i, tt.desc, err)
		}
	}
}

func TestLUUnloadRemovalPrevented(t *testing.T) {
	lu := &LU{}
	lu.Realize("v", "p", "1.0", "s", 0)
	stream := &fakeStream{data: make([]byte, 2048)}
	if err := lu.Load(stream, 2048, 2048); err != nil {
		t.Fatalf("unexpected Load error: %v", err)
	}

	lu.PreventMediaRemoval = true
	if err := lu.Unload(); err != errRemovalPrevented {
		t.Fatalf("expected errRemovalPrevented, got: %v", err)
	}

	lu.PreventMediaRemoval = false
	if err := lu.Unload(); err != nil {
		t.Fatalf("unexpected Unload error: %v", err)
	}
	if lu.Loaded {
		t.Fatal("expected lu to be unloaded")
	}
}
