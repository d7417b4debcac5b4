// Package backingfile adapts a host-side path (an ISO image or a real
// optical device node) into a cdscsi.BackingStream: a random-access byte
// source of known size and physical block size. The open/probe sequence
// mirrors cd-device-linux.c's cd_device_open_stream/cd_device_check; the
// block-size-promotion heuristic is spec.md §6's own.
package backingfile

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// DefaultBlockSize is the physical sector size assumed for a plain
// regular file (an ISO9660 image opened without the device-node ioctls
// that would report its own sector size).
const DefaultBlockSize = 2048

// isoPromotionBlockSize is the block size cmd_scsi_dev_load's caller
// promotes to when a 512-byte-sector source's size is itself a multiple
// of a 2048-byte DVD/ISO sector — the heuristic spec.md §6 and
// usb-device-cd.c's load_lun both apply.
const isoPromotionBlockSize = 2048

// nativeBlockSize is the sector size a disk block device reports before
// the ISO-promotion heuristic runs.
const nativeBlockSize = 512

// Stream is a *os.File-backed cdscsi.BackingStream: ReadAt plus a fixed
// size and block size learned at Open time. One Stream is exclusively
// owned by the LU it is Load()-ed into, per spec.md §3.
type Stream struct {
	mu sync.Mutex

	f         *os.File
	path      string
	size      int64
	blockSize uint32
	isDevice  bool
}

// ReadAt satisfies cdscsi.BackingStream.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size satisfies cdscsi.BackingStream.
func (s *Stream) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// BlockSize reports the physical sector size Open settled on, after any
// ISO-promotion heuristic.
func (s *Stream) BlockSize() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockSize
}

// Path returns the filesystem path the stream was opened from.
func (s *Stream) Path() string { return s.path }

// IsDevice reports whether Open determined path names a block/optical
// device node rather than a plain regular file.
func (s *Stream) IsDevice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDevice
}

// Close releases the underlying file descriptor.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Open opens path and probes its size and physical block size, mirroring
// cd_device_open_stream: a regular file reports its own Stat().Size()
// at DefaultBlockSize; a block/character device node (Size()==0 from
// Stat, or the platform-specific probe below says so) instead uses the
// OS-specific ioctl probe in file_linux.go/file_other.go. Applies the
// 512->2048 ISO-promotion heuristic from spec.md §6 either way.
func Open(path string) (*Stream, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "backingfile: open %s", path)
	}

	s := &Stream{f: f, path: path}

	size, blockSize, isDevice, err := probe(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "backingfile: probe %s", path)
	}
	if size == 0 {
		f.Close()
		return nil, errors.Errorf("backingfile: %s has zero size", path)
	}

	if blockSize == nativeBlockSize && size%isoPromotionBlockSize == 0 {
		blockSize = isoPromotionBlockSize
	}

	s.size = size
	s.blockSize = blockSize
	s.isDevice = isDevice
	return s, nil
}
