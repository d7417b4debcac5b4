//go:build linux

package backingfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// Linux cdrom.h ioctl numbers and status values usbredir's
// cd-device-linux.c drives via cd_device_check/cd_device_load. Not
// exposed by golang.org/x/sys/unix (which only carries the generic
// block-device ioctls), so they are reproduced here as the handful of
// named constants the probe actually needs.
const (
	ioctlCDROMDriveStatus   = 0x5326
	ioctlCDROMDiscStatus    = 0x5327
	ioctlCDROMGetCapability = 0x5331

	cdsDiscOK = 4
	cdsDataV1 = 1
)

// probe determines size, physical block size and device-node-ness for an
// already-open file, mirroring cd_device_open_stream's fstat-then-ioctl
// fallback: a regular file's Stat().Size() is trusted directly; a size of
// zero (block/char special file) falls back to BLKGETSIZE64/BLKSSZGET.
func probe(f *os.File) (size int64, blockSize uint32, isDevice bool, err error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, 0, false, err
	}

	if fi.Size() > 0 {
		return fi.Size(), DefaultBlockSize, false, nil
	}

	fd := int(f.Fd())

	sz, szErr := unix.IoctlGetInt(fd, unix.BLKGETSIZE64)
	ssz, sszErr := unix.IoctlGetInt(fd, unix.BLKSSZGET)
	if szErr != nil || sszErr != nil {
		// Neither a regular file with a size nor a block device this
		// target knows how to probe; report what Stat gave us.
		return fi.Size(), DefaultBlockSize, false, nil
	}
	return int64(sz), uint32(ssz), true, nil
}

// MediaPresent best-effort-checks a device node for a readable data disc
// via CDROM_DRIVE_STATUS/CDROM_DISC_STATUS, mirroring cd_device_check.
// Returns false (rather than an error) for anything that isn't a Linux
// optical device node, and for a drive that does not report a data disc.
func MediaPresent(path string) bool {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return false
	}
	defer f.Close()

	fd := int(f.Fd())
	status, err := unix.IoctlGetInt(fd, ioctlCDROMDriveStatus)
	if err != nil || status != cdsDiscOK {
		return false
	}
	discStatus, err := unix.IoctlGetInt(fd, ioctlCDROMDiscStatus)
	if err != nil || discStatus != cdsDataV1 {
		return false
	}
	return true
}
