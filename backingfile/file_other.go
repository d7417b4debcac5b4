//go:build !linux

package backingfile

import "os"

// probe on non-Linux platforms implements only the regular-file path:
// spec.md §1 scopes "per-OS device-node probing" out, and SPEC_FULL.md §7
// licenses dropping the device-node ioctls off Linux rather than porting
// cd-device-win.c's IOCTL_CDROM_GET_CONFIGURATION/IOCTL_DISK_GET_DRIVE_GEOMETRY_EX
// sequence.
func probe(f *os.File) (size int64, blockSize uint32, isDevice bool, err error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, 0, false, err
	}
	return fi.Size(), DefaultBlockSize, false, nil
}

// MediaPresent always reports true off Linux: there is no device-node
// probe to consult, so media presence tracks Loaded state alone.
func MediaPresent(path string) bool { return true }
