package cdscsi

import (
	"sync"

	log "github.com/prometheus/common/log"
)

// MaxLUNs bounds the number of logical units a target can carry, matching
// the source engine's fixed MAX_LUNS table size.
const MaxLUNs = 32

// TargetState tracks whether the target is servicing requests or
// unwinding a reset.
type TargetState int

const (
	TargetRunning TargetState = iota
	TargetReset
)

// ResetCompleteFunc is invoked once a full target reset (all realized
// LUs reset, any in-flight request drained) has finished.
type ResetCompleteFunc func()

// DevResetCompleteFunc is invoked once a single LU's reset has finished.
type DevResetCompleteFunc func(lun uint32)

// Target owns a fixed-size array of logical units and the single
// in-flight request each target processes at a time, mirroring
// cd_scsi_target from the engine this was distilled from: one request at
// a time, one cancellable in flight, and a reset state machine that must
// drain the current request before resetting every realized LU.
type Target struct {
	mu sync.Mutex

	maxLuns uint32
	units   [MaxLUNs]*LU
	numLuns uint32

	state  TargetState
	curReq *Request

	OnDevResetComplete DevResetCompleteFunc
	OnResetComplete    ResetCompleteFunc

	log log.Logger
}

// NewTarget allocates a target with room for maxLuns logical units.
// Mirrors cd_scsi_target_alloc's bounds check.
func NewTarget(maxLuns uint32) (*Target, error) {
	if maxLuns == 0 || maxLuns > MaxLUNs {
		return nil, errMaxLuns
	}
	t := &Target{maxLuns: maxLuns, state: TargetRunning}
	for i := range t.units {
		t.units[i] = &LU{Lun: uint32(i)}
	}
	t.log = log.Base()
	return t, nil
}

// MaxLuns returns the number of LU slots this target was allocated with.
func (t *Target) MaxLuns() uint32 { return t.maxLuns }

func (t *Target) lunLegal(lun uint32) bool {
	return lun < t.maxLuns
}

func (t *Target) lunRealized(lun uint32) bool {
	if !t.lunLegal(lun) {
		return false
	}
	return t.units[lun].Realized
}

// LU returns the logical unit at lun, or nil if out of range. Callers
// holding a *LU may use it regardless of target-level locking: each LU
// guards its own fields.
func (t *Target) LU(lun uint32) *LU {
	if !t.lunLegal(lun) {
		return nil
	}
	return t.units[lun]
}

// Realize brings the LU at lun online. Bumps the realized-LU count that
// NumLuns reports.
func (t *Target) Realize(lun uint32, vendor, product, version, serial string, claimVersion uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lunLegal(lun) {
		return errIllegalLun
	}
	if t.units[lun].Realized {
		return errAlreadyLoaded
	}
	t.units[lun].Realize(vendor, product, version, serial, claimVersion)
	t.numLuns++
	return nil
}

// Unrealize takes the LU at lun offline.
func (t *Target) Unrealize(lun uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lunRealized(lun) {
		return errNotRealized
	}
	t.units[lun].Unrealize()
	t.numLuns--
	return nil
}

// NumLuns returns the count of currently realized LUs, from which the
// usbredir adapter derives its Get Max LUN answer. REPORT LUNS builds its
// list from the realized LUs directly.
func (t *Target) NumLuns() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numLuns
}

// RealizedLUNs returns the LUN numbers currently realized, in ascending
// order — the per-entry data REPORT LUNS emits, fixing the source
// engine's bug of writing num_luns into every entry instead of the
// entry's own LUN index.
func (t *Target) RealizedLUNs() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realizedLUNsLocked()
}

func (t *Target) realizedLUNsLocked() []uint32 {
	out := make([]uint32, 0, t.numLuns)
	for lun := uint32(0); lun < t.maxLuns; lun++ {
		if t.units[lun].Realized {
			out = append(out, lun)
		}
	}
	return out
}

// DevReset resets a single LU, as cd_scsi_dev_reset does.
func (t *Target) DevReset(lun uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lunRealized(lun) {
		return errNotRealized
	}
	t.units[lun].Reset()
	return nil
}

func (t *Target) doReset() {
	for lun := uint32(0); lun < t.maxLuns; lun++ {
		if t.units[lun].Realized {
			t.units[lun].Reset()
			if t.OnDevResetComplete != nil {
				t.OnDevResetComplete(lun)
			}
		}
	}
	t.log.Debug("target reset complete")
	t.state = TargetRunning
	if t.OnResetComplete != nil {
		t.OnResetComplete()
	}
}

// Reset begins a target-wide reset. If a request is currently running it
// is cancelled first; doReset only runs once that request's completion
// (via Release) observes TargetReset state, matching
// cd_scsi_target_reset/cd_scsi_dev_request_release's handoff.
func (t *Target) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TargetReset {
		t.log.Debug("target already in reset")
		return
	}
	t.state = TargetReset

	if t.curReq != nil {
		t.cancelLocked(t.curReq)
		if t.curReq != nil {
			t.log.Debug("target reset in progress")
			return
		}
	}
	t.doReset()
}
