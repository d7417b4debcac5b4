package cdscsi

import (
	"context"

	"github.com/coreos/go-usbcd/scsi"
)

// ReqState is a request's lifecycle state, mirroring cd_scsi_req_state.
type ReqState int

const (
	ReqIdle ReqState = iota
	ReqRunning
	ReqComplete
	ReqCanceled
	// ReqDisposed is ReqCanceled's counterpart when the cancellation raced
	// a target reset: the owning MSD layer must not resubmit or inspect
	// this request's buffer any further.
	ReqDisposed
)

func (s ReqState) String() string {
	switch s {
	case ReqIdle:
		return "idle"
	case ReqRunning:
		return "running"
	case ReqComplete:
		return "complete"
	case ReqCanceled:
		return "canceled"
	case ReqDisposed:
		return "disposed"
	default:
		return "illegal"
	}
}

// XferDir is the direction of the CDB's data phase, mirroring
// scsi_xfer_dir.
type XferDir int

const (
	XferNone XferDir = iota
	XferFromDev
	XferToDev
)

// Request is one SCSI command in flight: the CDB and its decoded fields,
// the data buffer, and the bookkeeping Submit/complete need. The field
// names mirror cd_scsi_request directly; Go adds a context for
// cancellable async reads instead of a GCancellable callback chain.
type Request struct {
	CDB    [16]byte
	CDBLen int
	Tag    uint32
	Lun    uint32

	Buf    []byte
	BufLen uint32

	State   ReqState
	XferDir XferDir

	LBA    uint64
	Count  uint64
	Offset uint64
	ReqLen uint64
	InLen  uint64
	Status byte

	ctx    context.Context
	cancel context.CancelFunc

	// complete is the callback Submit was given; Submit stores it here so
	// async command paths (cmdRead) can invoke it from their own goroutine
	// once the backing stream read returns, since Submit itself returns
	// long before that happens.
	complete func(*Request)
}

// NewRequest builds a Request from a raw CDB and a caller-owned data
// buffer (sized for the largest phase this command can transfer).
func NewRequest(cdb []byte, tag, lun uint32, buf []byte) *Request {
	r := &Request{
		Tag:    tag,
		Lun:    lun,
		Buf:    buf,
		BufLen: uint32(len(buf)),
		Status: scsi.StatusGood,
	}
	n := copy(r.CDB[:], cdb)
	r.CDBLen = n
	return r
}

// Opcode returns the request's CDB opcode byte.
func (r *Request) Opcode() byte { return r.CDB[0] }

func (r *Request) cdb() []byte { return r.CDB[:r.CDBLen] }

func (r *Request) completeGood() {
	r.State = ReqComplete
	r.Status = scsi.StatusGood
}

func (r *Request) checkCondition(lu *LU, sense scsi.ShortSense) {
	r.State = ReqComplete
	r.Status = scsi.StatusCheckCondition
	r.InLen = 0
	if lu != nil {
		lu.SetSense(sense)
	}
}

// Submit dispatches req against lun, following the gating order of the
// engine this module is grounded on: single-in-flight enforcement,
// illegal/unrealized LUN (with an INQUIRY carve-out so a guest probing
// LUNs still gets a response), pending sense/Unit-Attention suppression,
// then the opcode switch. Commands that complete synchronously invoke
// onComplete before Submit returns; READ leaves the request Running and
// invokes onComplete later from its async completion.
func (t *Target) Submit(req *Request, onComplete func(*Request)) {
	t.mu.Lock()

	opcode := req.Opcode()
	lun := req.Lun

	if t.curReq != nil {
		t.log.Error("request_submit: request not idle")
		req.checkCondition(t.LU(lun), scsi.TargetFailure)
		t.mu.Unlock()
		onComplete(req)
		return
	}
	if req.State != ReqIdle {
		t.log.Error("request_submit: prior request outstanding")
		req.checkCondition(t.LU(lun), scsi.TargetFailure)
		t.mu.Unlock()
		onComplete(req)
		return
	}
	req.State = ReqRunning
	req.complete = onComplete
	t.curReq = req

	dev := t.LU(lun)

	if !t.lunLegal(lun) {
		t.log.Debugf("request_submit: illegal lun %d", lun)
		t.dispatchNoLun(dev, req, opcode, true)
		t.finishLocked(req, onComplete)
		return
	}
	if !t.lunRealized(lun) {
		t.log.Debugf("request_submit: unrealized lun %d", lun)
		t.dispatchNoLun(dev, req, opcode, false)
		t.finishLocked(req, onComplete)
		return
	}

	if dev.Sense().Key != scsi.SenseNoSense {
		sense := dev.Sense()
		if sense.Key == scsi.SenseUnitAttention {
			if !scsi.OpcodeSuppressesUA(opcode) {
				t.log.Debug("request_submit: unit attention")
				req.checkCondition(dev, sense)
				t.finishLocked(req, onComplete)
				return
			}
		} else if opcode != scsi.RequestSense {
			t.log.Debugf("request_submit: pending sense lun %d key 0x%02x", lun, sense.Key)
			req.State = ReqComplete
			req.Status = scsi.StatusCheckCondition
			req.InLen = 0
			t.finishLocked(req, onComplete)
			return
		}
	}

	req.ReqLen = 0
	t.dispatch(dev, req, opcode)

	if req.ReqLen > 0x7fffffff {
		req.checkCondition(dev, scsi.InvalidField)
	}

	t.finishLocked(req, onComplete)
}

// finishLocked unlocks the target and, if the request already reached
// ReqComplete synchronously, invokes onComplete. Async commands (READ)
// leave req Running; their own completion path calls onComplete directly.
func (t *Target) finishLocked(req *Request, onComplete func(*Request)) {
	complete := req.State == ReqComplete
	t.mu.Unlock()
	if complete {
		onComplete(req)
	}
}

func (t *Target) dispatchNoLun(dev *LU, req *Request, opcode byte, illegal bool) {
	switch opcode {
	case scsi.Inquiry:
		qual := byte(perifQualifierNotConnected)
		if illegal {
			qual = perifQualifierUnsupported
		}
		req.ReqLen = uint64(req.CDB[4]) | uint64(req.CDB[3])<<8
		if req.CDB[1]&0x1 != 0 {
			cmdInquiryVPDNoLun(req, qual)
		} else {
			cmdInquiryStandardNoLun(req, qual)
		}
	default:
		req.checkCondition(dev, scsi.LunNotSupported)
	}
}

func (t *Target) dispatch(dev *LU, req *Request, opcode byte) {
	switch opcode {
	case scsi.ReportLuns:
		cmdReportLuns(t, dev, req)
	case scsi.TestUnitReady:
		cmdTestUnitReady(dev, req)
	case scsi.Inquiry:
		cmdInquiry(dev, req)
	case scsi.RequestSense:
		cmdRequestSense(dev, req)
	case scsi.Read6, scsi.Read10, scsi.Read12, scsi.Read16:
		cmdRead(t, dev, req)
	case scsi.ReadCapacity10:
		cmdReadCapacity(dev, req)
	case scsi.ReadTOC:
		cmdReadTOC(dev, req)
	case scsi.GetEventStatusNotification:
		cmdGetEventStatusNotification(dev, req)
	case scsi.ReadDiscInformation:
		cmdReadDiscInformation(dev, req)
	case scsi.ReadTrackInformation:
		cmdReadTrackInformation(dev, req)
	case scsi.ModeSense10:
		cmdModeSense10(dev, req)
	case scsi.ModeSelect6:
		cmdModeSelect6(dev, req)
	case scsi.ModeSelect10:
		cmdModeSelect10(dev, req)
	case scsi.GetConfiguration:
		cmdGetConfiguration(dev, req)
	case scsi.AllowMediumRemoval:
		cmdAllowMediumRemoval(dev, req)
	case scsi.SendEvent:
		cmdSendEvent(dev, req)
	case scsi.ReportKey:
		cmdReportKey(dev, req)
	case scsi.SendKey:
		cmdSendKey(dev, req)
	case scsi.StartStopUnit:
		cmdStartStopUnit(dev, req)
	case scsi.SynchronizeCache10:
		req.completeGood()
	case scsi.MMCGetPerformance:
		cmdGetPerformance(dev, req)
	case scsi.MechanismStatus:
		cmdMechanismStatus(dev, req)
	default:
		t.log.Debugf("request_submit: unsupported opcode 0x%02x", opcode)
		req.checkCondition(dev, scsi.InvalidOpcode)
	}
}

const (
	perifQualifierConnected    = 0x00
	perifQualifierNotConnected = 0x01
	perifQualifierUnsupported  = 0x03
)

// Cancel aborts req if it is the target's current, running request,
// mirroring cd_scsi_dev_request_cancel.
func (t *Target) Cancel(req *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.curReq != req {
		t.log.Debug("request_cancel: other request outstanding")
		return
	}
	if req.State != ReqRunning {
		t.log.Debug("request_cancel: request is not running")
		return
	}
	t.cancelLocked(req)
}

func (t *Target) cancelLocked(req *Request) {
	if req.cancel != nil {
		req.cancel()
	}
}

// Release returns the current-request slot to idle and, if a target
// reset was waiting on this request to drain, runs it now — mirroring
// cd_scsi_dev_request_release.
func (t *Target) Release(req *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.curReq = nil
	req.State = ReqIdle
	req.XferDir = XferNone
	req.InLen = 0
	req.Status = scsi.StatusGood

	if t.state == TargetReset {
		t.doReset()
	}
}
