// Package cdscsi implements a single-LUN-at-a-time SCSI/MMC target engine
// for an emulated CD/DVD-ROM: logical unit state, the command dispatch
// table, and the async backing-stream read path. The request/response
// shape (Request, Complete, CheckCondition) and the per-opcode handler
// naming follow the teacher's scsi_handler.go/cmd_handler.go split; the
// gating order and wire-level field layouts follow the SCSI/MMC engine
// this module's spec was distilled from.
package cdscsi

import (
	"sync"

	"github.com/coreos/go-usbcd/scsi"
)

// PowerCondition mirrors SCSI's START STOP UNIT power states.
type PowerCondition int

const (
	PowerStopped PowerCondition = iota
	PowerActive
	PowerIdle
	PowerStandby
)

func (p PowerCondition) String() string {
	switch p {
	case PowerStopped:
		return "stopped"
	case PowerActive:
		return "active"
	case PowerIdle:
		return "idle"
	case PowerStandby:
		return "standby"
	default:
		return "reserved"
	}
}

// BackingStream is the minimal interface an LU needs from its media: a
// positioned reader and a known size. backingfile.Stream implements this;
// cdscsi has no import on backingfile to avoid a dependency cycle between
// the engine and its adapters.
type BackingStream interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
}

// LU is one emulated logical unit (a single CD/DVD-ROM drive slot).
type LU struct {
	mu sync.Mutex

	Lun uint32

	Realized            bool
	Removable           bool
	Loaded              bool
	PreventMediaRemoval bool
	CDROM               bool

	PowerCond    PowerCondition
	ClaimVersion uint32

	Vendor, Product, Version, Serial string
	// WWN is an optional NAA-style identifier string for INQUIRY VPD page
	// 0x83 (device identification); set by an owning registry after
	// Realize. Empty until set, in which case page 0x83 falls back to
	// Serial, matching a target with no WWN allocator configured.
	WWN string

	Stream    BackingStream
	Size      uint64
	BlockSize uint32
	NumBlocks uint32

	sense      scsi.ShortSense
	fixedSense [scsi.FixedSenseLen]byte

	// OnLoadChange fires whenever Loaded flips, whether through an
	// explicit Load/Unload call or through a guest-issued START_STOP_UNIT
	// with LOEJ — mirroring cd_usb_bulk_msd_lun_changed's "device reports
	// its own medium changes" callback so an owning registry can attach
	// or detach the real backing stream in response to a tray command the
	// SCSI layer itself cannot satisfy.
	OnLoadChange func(lun uint32, loaded bool)
}

// Realize brings an LU online with its identity fields, ready to accept
// Load. Mirrors cd_scsi_dev_realize: resets transient state and primes the
// power-on Unit Attention.
func (lu *LU) Realize(vendor, product, version, serial string, claimVersion uint32) {
	lu.mu.Lock()
	defer lu.mu.Unlock()

	lu.Realized = true
	lu.Removable = true
	lu.Loaded = false
	lu.PreventMediaRemoval = false
	lu.CDROM = false
	lu.PowerCond = PowerActive
	lu.ClaimVersion = claimVersion
	lu.Vendor, lu.Product, lu.Version, lu.Serial = vendor, product, version, serial

	lu.setSenseLocked(scsi.Reset)
}

// Unrealize tears the LU down. Mirrors cd_scsi_dev_unrealize.
func (lu *LU) Unrealize() {
	lu.mu.Lock()
	defer lu.mu.Unlock()

	lu.Loaded = false
	lu.Realized = false
	lu.PowerCond = PowerStopped
}

// Load attaches a backing stream of the given size/block size. Mirrors
// cd_scsi_dev_load; re-loading an already loaded LU is rejected, as in
// the original — callers must Unload first.
func (lu *LU) Load(stream BackingStream, size uint64, blockSize uint32) error {
	lu.mu.Lock()

	if lu.Loaded {
		lu.mu.Unlock()
		return errAlreadyLoaded
	}
	lu.Stream = stream
	lu.Size = size
	lu.BlockSize = blockSize
	lu.NumBlocks = uint32(size / uint64(blockSize))
	lu.Loaded = true
	cb, lun := lu.OnLoadChange, lu.Lun
	lu.mu.Unlock()

	if cb != nil {
		cb(lun, true)
	}
	return nil
}

// Unload detaches the backing stream. Mirrors cd_scsi_dev_unload: refuses
// while PreventMediaRemoval is set, same as the source it was distilled
// from — callers needing a forced eject must clear the flag first.
func (lu *LU) Unload() error {
	lu.mu.Lock()

	if !lu.Loaded {
		lu.mu.Unlock()
		return errNotLoaded
	}
	if lu.PreventMediaRemoval {
		lu.mu.Unlock()
		return errRemovalPrevented
	}
	lu.Loaded = false
	lu.Stream = nil
	lu.Size = 0
	lu.BlockSize = 0
	lu.NumBlocks = 0
	cb, lun := lu.OnLoadChange, lu.Lun
	lu.mu.Unlock()

	if cb != nil {
		cb(lun, false)
	}
	return nil
}

// SetLoadedFlag flips Loaded directly without touching Stream/Size —
// mirroring the source engine's START_STOP_UNIT/LOEJ handling, which
// toggles the tray flag and leaves actually attaching or detaching the
// backing stream to the caller that observes OnLoadChange (the scsi
// engine itself has no filesystem access). Only cmdStartStopUnit calls
// this; Load/Unload remain the path that owns Stream.
func (lu *LU) SetLoadedFlag(loaded bool) {
	lu.mu.Lock()
	lu.Loaded = loaded
	cb, lun := lu.OnLoadChange, lu.Lun
	lu.mu.Unlock()

	if cb != nil {
		cb(lun, loaded)
	}
}

// Reset clears PreventMediaRemoval and re-arms the power-on Unit
// Attention, as cd_scsi_dev_reset does.
func (lu *LU) Reset() {
	lu.mu.Lock()
	defer lu.mu.Unlock()

	lu.PreventMediaRemoval = false
	lu.setSenseLocked(scsi.Reset)
}

// Sense returns the LU's pending short sense.
func (lu *LU) Sense() scsi.ShortSense {
	lu.mu.Lock()
	defer lu.mu.Unlock()
	return lu.sense
}

// SetSense arms a pending sense condition reported to the next command
// that doesn't suppress Unit Attention.
func (lu *LU) SetSense(s scsi.ShortSense) {
	lu.mu.Lock()
	defer lu.mu.Unlock()
	lu.setSenseLocked(s)
}

func (lu *LU) setSenseLocked(s scsi.ShortSense) {
	lu.sense = s
	scsi.BuildFixedSense(lu.fixedSense[:], s)
}

// ClearSense clears the pending sense, as REQUEST SENSE does after
// reporting it.
func (lu *LU) ClearSense() {
	lu.mu.Lock()
	defer lu.mu.Unlock()
	lu.setSenseLocked(scsi.NoSense)
}

// FixedSense returns the 18-byte fixed-format sense buffer for the
// currently armed short sense.
func (lu *LU) FixedSense() [scsi.FixedSenseLen]byte {
	lu.mu.Lock()
	defer lu.mu.Unlock()
	return lu.fixedSense
}
