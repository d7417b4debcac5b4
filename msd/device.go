package msd

import (
	"sync"

	log "github.com/prometheus/common/log"

	"github.com/coreos/go-usbcd/cdscsi"
	"github.com/coreos/go-usbcd/scsi"
)

// DefaultDataBufLen is the scratch buffer size the device allocates for a
// command's data phase, matching the source engine's 256KiB data_buf.
const DefaultDataBufLen = 256 * 1024

type state int

const (
	stateInit state = iota
	stateCBW
	stateDataOut
	stateDataIn
	stateZeroDataIn
	stateCSW
	stateDeviceReset
	stateTargetReset
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateCBW:
		return "CBW"
	case stateDataOut:
		return "DATAOUT"
	case stateDataIn:
		return "DATAIN"
	case stateZeroDataIn:
		return "ZERO_DATAIN"
	case stateCSW:
		return "CSW"
	case stateDeviceReset:
		return "DEV_RESET"
	case stateTargetReset:
		return "TGT_RESET"
	default:
		return "ILLEGAL"
	}
}

// BulkStatus is the outcome a Device reports back to its USB transport
// when handing it bulk-in data.
type BulkStatus int

const (
	BulkStatusGood BulkStatus = iota
	BulkStatusCanceled
)

// Device drives the Bulk-Only Transport state machine for a single USB
// interface backed by a cdscsi.Target. It mirrors
// usb_cd_bulk_msd_device/usb_cd_bulk_msd_request, generalized to build a
// fresh cdscsi.Request per command instead of reusing one persistent
// struct — the single-in-flight-command guarantee still comes from
// cdscsi.Target.Submit, not from struct reuse.
type Device struct {
	mu sync.Mutex

	state  state
	target *cdscsi.Target

	req       *cdscsi.Request
	lun       uint32
	usbTag    uint32
	usbReqLen uint32
	scsiInLen uint32
	xferLen   uint32
	bulkInLen uint32
	csw       CSW

	dataBuf []byte
	log     log.Logger

	// OnBulkIn hands the transport layer data (or a zero-length packet)
	// to answer a pending bulk-in read, mirroring
	// cd_usb_bulk_msd_read_complete.
	OnBulkIn func(data []byte, status BulkStatus)
	// OnTargetResetComplete fires once a full target reset has drained,
	// mirroring cd_usb_bulk_msd_reset_complete.
	OnTargetResetComplete func()
}

// NewDevice builds a Device driving target, with its own data_buf-style
// scratch buffer.
func NewDevice(target *cdscsi.Target) *Device {
	d := &Device{
		target:  target,
		state:   stateInit,
		dataBuf: make([]byte, DefaultDataBufLen),
		log:     log.Base(),
	}
	target.OnResetComplete = d.onTargetResetComplete
	return d
}

// Realize configures a logical unit and, for the device's first LU,
// brings the Bulk-Only state machine out of INIT and into CBW, mirroring
// cd_usb_bulk_msd_realize.
func (d *Device) Realize(lun uint32, vendor, product, version, serial string, claimVersion uint32) error {
	if err := d.target.Realize(lun, vendor, product, version, serial, claimVersion); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == stateInit {
		d.state = stateCBW
	}
	return nil
}

// NumLuns reports the count of realized logical units, as the MSC
// Get Max LUN class request needs.
func (d *Device) NumLuns() uint32 {
	return d.target.NumLuns()
}

// Unrealize detaches a logical unit.
func (d *Device) Unrealize(lun uint32) error {
	return d.target.Unrealize(lun)
}

// Reset begins a full target reset, mirroring cd_usb_bulk_msd_reset: the
// state machine waits in TGT_RESET until the target signals completion,
// then lands in CBW ready for the next command — the trailing set below
// overwrites the INIT written by onTargetResetComplete, exactly as the
// original's unconditional set_state(CBW) does after its reset call.
func (d *Device) Reset() {
	d.mu.Lock()
	d.state = stateTargetReset
	req := d.req
	d.req = nil
	d.mu.Unlock()

	// An abandoned command (reset between its phases) still holds the
	// target's single request slot; cancel and release it so the target
	// reset below can drain instead of waiting on a CSW that will never
	// be read.
	if req != nil {
		d.target.Cancel(req)
		d.target.Release(req)
	}
	d.target.Reset()

	d.mu.Lock()
	d.state = stateCBW
	d.mu.Unlock()
}

func (d *Device) onTargetResetComplete() {
	d.mu.Lock()
	d.state = stateInit
	d.mu.Unlock()

	if d.OnTargetResetComplete != nil {
		d.OnTargetResetComplete()
	}
}

// Write feeds a bulk-out transfer into the state machine: a CBW while in
// CBW state, or a write command's payload while in DATAOUT. Mirrors
// cd_usb_bulk_msd_write.
func (d *Device) Write(buf []byte) error {
	d.mu.Lock()

	switch d.state {
	case stateCBW:
		cbw, err := ParseCBW(buf)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		d.startCommand(cbw)
		submit := d.state == stateDataIn || d.state == stateCSW
		req := d.req
		d.mu.Unlock()
		if submit {
			d.target.Submit(req, d.onRequestComplete)
		}
		return nil

	case stateDataOut:
		req := d.req
		req.Buf = buf
		req.BufLen = uint32(len(buf))
		d.state = stateCSW
		d.mu.Unlock()
		d.target.Submit(req, d.onRequestComplete)
		return nil

	default:
		st := d.state
		d.mu.Unlock()
		d.log.Errorf("msd write: unexpected state %s", st)
		return errUnexpectedState
	}
}

func (d *Device) startCommand(cbw *CBW) {
	d.lun = uint32(cbw.LUN)
	d.usbTag = cbw.Tag
	d.usbReqLen = cbw.ExpDataLen
	d.scsiInLen = 0
	d.xferLen = 0
	d.bulkInLen = 0

	switch {
	case d.usbReqLen == 0:
		d.state = stateCSW
	case cbw.DataIn():
		d.state = stateDataIn
	default:
		d.state = stateDataOut
	}

	// The scratch buffer is handed over even when the host expects no data
	// phase: commands still build their response bytes, and scsi_in_len's
	// clamp against usb_req_len keeps them from ever reaching the wire.
	d.req = cdscsi.NewRequest(cbw.CDB[:cbw.CDBLen], cbw.Tag, d.lun, d.dataBuf)
	d.csw = CSW{Tag: cbw.Tag, Status: StatusGood}
}

// Read services a bulk-in transfer request of up to maxLen bytes,
// mirroring cd_usb_bulk_msd_read.
func (d *Device) Read(maxLen uint32) error {
	d.mu.Lock()
	defer func() { d.mu.Unlock() }()

	switch d.state {
	case stateCSW:
		if maxLen < CSWLen {
			return errShortRead
		}
		if d.req.State == cdscsi.ReqComplete {
			d.sendStatusLocked()
		} else {
			d.bulkInLen += maxLen
		}
		return nil

	case stateDataIn:
		if d.req.State == cdscsi.ReqComplete {
			d.sendDataInLocked(maxLen)
		} else {
			d.bulkInLen += maxLen
		}
		return nil

	case stateZeroDataIn:
		if d.OnBulkIn != nil {
			d.OnBulkIn(nil, BulkStatusGood)
		}
		d.state = stateCSW
		return nil

	default:
		d.log.Errorf("msd read: unexpected state %s", d.state)
		return errUnexpectedState
	}
}

func (d *Device) sendStatusLocked() {
	if d.OnBulkIn != nil {
		d.OnBulkIn(d.csw.Bytes(), BulkStatusGood)
	}
	d.state = stateCBW
	d.target.Release(d.req)
}

func (d *Device) sendDataInLocked(maxLen uint32) {
	avail := d.scsiInLen - d.xferLen
	sendLen := avail
	if maxLen < sendLen {
		sendLen = maxLen
	}

	buf := d.req.Buf[d.xferLen : d.xferLen+sendLen]
	if d.OnBulkIn != nil {
		d.OnBulkIn(buf, BulkStatusGood)
	}

	if d.req.Status == scsi.StatusGood {
		d.xferLen += sendLen
		if d.xferLen == d.scsiInLen {
			if d.scsiInLen == d.usbReqLen || sendLen < maxLen {
				d.state = stateCSW
			} else {
				d.state = stateZeroDataIn
			}
		}
	} else {
		d.state = stateCSW
	}
}

// onRequestComplete is cdscsi.Target's completion callback, mirroring
// cd_scsi_dev_request_complete: it folds the SCSI result into the CSW and
// flushes any bulk-in read that arrived while the command was still
// running.
func (d *Device) onRequestComplete(req *cdscsi.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A canceled or abandoned request's completion must not produce data
	// or a CSW: CancelRead already answered the pending bulk-in with a
	// cancelled status, and Reset drops the request before the state
	// machine returns to CBW.
	if req != d.req || req.State == cdscsi.ReqCanceled || req.State == cdscsi.ReqDisposed {
		return
	}

	if req.InLen <= uint64(d.usbReqLen) {
		d.scsiInLen = uint32(req.InLen)
	} else {
		d.scsiInLen = d.usbReqLen
	}

	if d.usbReqLen > d.scsiInLen {
		d.csw.Residue = d.usbReqLen - d.scsiInLen
	}
	if req.Status != scsi.StatusGood {
		d.csw.Status = StatusFailed
	}

	if d.bulkInLen != 0 {
		switch d.state {
		case stateDataIn:
			d.sendDataInLocked(d.bulkInLen)
		case stateCSW:
			d.sendStatusLocked()
		}
		d.bulkInLen = 0
	}
}

// CancelRead aborts whatever command is in flight, mirroring
// cd_usb_bulk_msd_cancel_read — the source engine has no async I/O to
// actually interrupt at this layer and reports the cancellation
// unconditionally; this target additionally calls cdscsi.Target.Cancel so
// a genuinely async READ's backing-stream goroutine is told to stop.
func (d *Device) CancelRead() error {
	d.mu.Lock()
	req := d.req
	d.mu.Unlock()

	if req != nil {
		d.target.Cancel(req)
	}
	if d.OnBulkIn != nil {
		d.OnBulkIn(nil, BulkStatusCanceled)
	}

	d.mu.Lock()
	d.state = stateCBW
	d.mu.Unlock()
	if req != nil {
		d.target.Release(req)
	}
	return nil
}
